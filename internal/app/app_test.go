package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"dayorder/internal/clock"
	"dayorder/internal/config"
	"dayorder/internal/timetable"
	"dayorder/internal/transport"
)

func noEnv(string) string { return "" }

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, "dayorder.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

type fakeAdapter struct {
	mu   sync.Mutex
	out  chan<- transport.Update
	sent chan string
}

func newFakeAdapter() *fakeAdapter { return &fakeAdapter{sent: make(chan string, 32)} }

func (f *fakeAdapter) Start(_ context.Context, out chan<- transport.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	select {
	case f.sent <- text:
	default:
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) EditText(context.Context, transport.MessageRef, string, *transport.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) Username() string { return "dayorder_bot" }

func (f *fakeAdapter) push(t *testing.T, from int64, text string) {
	t.Helper()
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	if out == nil {
		t.Fatalf("adapter not started")
	}
	out <- transport.Update{
		Kind:    transport.UpdateMessage,
		Message: &transport.Message{ChatID: 10, FromID: from, FromUsername: "owner", Text: text},
	}
}

func (f *fakeAdapter) await(t *testing.T, want string) string {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-f.sent:
			if strings.Contains(got, want) {
				return got
			}
		case <-deadline:
			t.Fatalf("no reply containing %q", want)
		}
	}
}

func fullConfig(dir string) string {
	return `
logging:
  level: error
telegram:
  owner_user_ids: [1]
timetable:
  timezone: UTC
scheduler:
  enabled: true
dashboard:
  enabled: true
  addr: 127.0.0.1:0
storage:
  driver: sqlite
  path: ` + filepath.Join(dir, "dayorder.db") + `
`
}

func TestAppEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, fullConfig(dir))
	clk := clock.NewFixed(time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	fa := newFakeAdapter()

	a, err := New(Options{ConfigPath: path, Getenv: noEnv, Clock: clk, Adapter: fa})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fa.push(t, 2, "/now")
	fa.await(t, "Period 1 ends in 45:00")

	fa.push(t, 1, "/calendar set 2025-06-29 3")
	fa.await(t, "2025-06-29 is now Day 3")

	var addr string
	for deadline := time.Now().Add(3 * time.Second); addr == ""; {
		if time.Now().After(deadline) {
			t.Fatalf("dashboard did not bind")
		}
		addr = a.Dashboard().Addr()
		time.Sleep(10 * time.Millisecond)
	}
	resp, err := http.Get("http://" + addr + "/api/status?at=2025-06-29T09:00:00Z")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var st struct {
		DayOrder *int `json:"day_order"`
	}
	err = json.NewDecoder(resp.Body).Decode(&st)
	resp.Body.Close()
	if err != nil || st.DayOrder == nil || *st.DayOrder != 3 {
		t.Fatalf("status day_order = %v, err %v", st.DayOrder, err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// The override survives a restart.
	b, err := New(Options{ConfigPath: path, Getenv: noEnv, Clock: clk, Adapter: newFakeAdapter()})
	if err != nil {
		t.Fatalf("New after restart: %v", err)
	}
	ovs := b.Timetable().Overrides()
	if len(ovs) != 1 || ovs[0].Date != "2025-06-29" || ovs[0].DayOrder != 2 {
		t.Fatalf("overrides after restart = %+v", ovs)
	}
	_ = b.store.Close()
}

func TestNewWithoutTelegram(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), "logging:\n  level: error\n")
	a, err := New(Options{ConfigPath: path, Getenv: noEnv})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.adapter != nil || a.cmdm != nil {
		t.Fatalf("telegram wired without a token")
	}
	if a.notif.Enabled() {
		t.Fatalf("notifier enabled without a sender")
	}
}

func TestNewRejectsAnnounceWithoutTelegram(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), "logging:\n  level: error\nannounce:\n  enabled: true\n  chat_id: 5\n")
	if _, err := New(Options{ConfigPath: path, Getenv: noEnv}); !errors.Is(err, errAnnounceNeedsTelegram) {
		t.Fatalf("New = %v, want %v", err, errAnnounceNeedsTelegram)
	}
	a, err := New(Options{ConfigPath: path, Getenv: noEnv, Adapter: newFakeAdapter()})
	if err != nil {
		t.Fatalf("New with adapter: %v", err)
	}
	_ = a.logs.Close()
}

func TestShutdownClosesStorageLast(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	a, err := New(Options{ConfigPath: writeConfig(t, dir, fullConfig(dir)), Getenv: noEnv, Adapter: newFakeAdapter()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.store.Close() })

	pos := map[string]int{}
	var names []string
	for i, st := range a.shutdownSteps() {
		pos[st.name] = i
		names = append(names, st.name)
	}
	last := len(names) - 1
	if names[last] != "storage" {
		t.Fatalf("steps = %v, want storage last", names)
	}
	for _, writer := range []string{"router", "supervisor", "dashboard", "notifier", "announcer"} {
		if i, ok := pos[writer]; !ok || i >= last {
			t.Fatalf("steps = %v, %s must stop before storage", names, writer)
		}
	}
}

func TestValidateReload(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), "logging:\n  level: error\n")
	a, err := New(Options{ConfigPath: path, Getenv: noEnv})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	cfg := &config.Config{Announce: config.AnnounceConfig{Enabled: true, ChatID: 5}}
	if err := a.validateReload(ctx, cfg); err == nil {
		t.Fatalf("announce without telegram accepted")
	}

	if _, err := a.Timetable().SetOverride(ctx, "2025-06-29", 4, false, "", timetable.Actor{Name: "test"}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	short := &config.Config{Timetable: &config.TimetableConfig{Days: [][]string{{"A"}, {"B"}, {"C"}}}}
	if err := a.validateReload(ctx, short); err == nil || !strings.Contains(err.Error(), "2025-06-29") {
		t.Fatalf("validateReload = %v, want override conflict", err)
	}
	if err := a.validateReload(ctx, &config.Config{}); err != nil {
		t.Fatalf("validateReload(defaults) = %v", err)
	}
}

func TestApplyConfigSwapsTimetable(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, t.TempDir(), "logging:\n  level: error\n")
	a, err := New(Options{ConfigPath: path, Getenv: noEnv})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	prev := a.cfgm.Get()
	next := *prev
	next.Timetable = &config.TimetableConfig{
		Timezone: "UTC",
		Periods:  []config.PeriodConfig{{Start: "09:00", End: "10:00"}, {Start: "10:00", End: "11:00"}},
		Days:     [][]string{{"A", "B"}, {"C", "D"}, {"E", "F"}, {"G", "H"}, {"I", "J"}},
	}
	a.applyConfig(context.Background(), prev, &next)

	r := a.Timetable().Resolver()
	if len(r.Periods()) != 2 || r.Location().String() != "UTC" {
		t.Fatalf("periods = %d, loc = %s", len(r.Periods()), r.Location())
	}
	st := a.Timetable().Status(time.Date(2025, 6, 23, 9, 30, 0, 0, time.UTC))
	if subj, ok := st.CurrentSubject(); !ok || subj != "A" {
		t.Fatalf("current subject = %q, %v, want A", subj, ok)
	}
}
