package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dayorder/internal/timetable"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func noEnv(string) string { return "" }

const yamlConfig = `
logging:
  level: debug
  console: true
dashboard:
  enabled: true
  addr: 127.0.0.1:0
timetable:
  timezone: Asia/Kolkata
  calendar:
    2025-07-04: 3
    2025-06-23: null
announce:
  enabled: true
  chat_id: -100123
  period_start: true
  lead: 5m
  digest: "0 7 * * *"
storage:
  driver: file
  path: ./state/dayorder
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "dayorder.yaml", yamlConfig)
	m := NewManager(p)
	m.SetEnv(noEnv)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Dashboard.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
	if got := cfg.Timetable.Calendar["2025-07-04"]; got == nil || *got != 3 {
		t.Fatalf("calendar 2025-07-04 = %v, want 3", got)
	}
	if got, ok := cfg.Timetable.Calendar["2025-06-23"]; !ok || got != nil {
		t.Fatalf("calendar 2025-06-23 = %v (present %v), want explicit null", got, ok)
	}
	if m.Get() != cfg {
		t.Fatalf("Get did not return the committed config")
	}

	tt, cal, loc, err := cfg.Timetable.BuildTimetable()
	if err != nil {
		t.Fatalf("BuildTimetable: %v", err)
	}
	if loc.String() != "Asia/Kolkata" {
		t.Fatalf("loc = %s", loc)
	}
	if len(tt.Periods) != 6 {
		t.Fatalf("periods = %d, want defaults", len(tt.Periods))
	}
	if d, ok := cal.Lookup("2025-07-04"); !ok || d != 2 {
		t.Fatalf("2025-07-04 -> %d %v, want 0-based 2", d, ok)
	}
	if _, ok := cal.Lookup("2025-06-23"); ok {
		t.Fatalf("null entry still resolves")
	}
	if d, ok := cal.Lookup("2025-06-24"); !ok || d != 1 {
		t.Fatalf("default calendar lost: %d %v", d, ok)
	}
}

func TestYAMLDateKeys(t *testing.T) {
	t.Parallel()
	body := "timetable:\n  calendar:\n    2025-07-04: 3\n    2025-07-05: null\n    \"2025-07-07\": 1\n"
	j, err := toJSON("c.yaml", []byte(body))
	if err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	for _, want := range []string{`"2025-07-04":3`, `"2025-07-05":null`, `"2025-07-07":1`} {
		if !strings.Contains(string(j), want) {
			t.Fatalf("toJSON = %s, missing %s", j, want)
		}
	}

	m := NewManager(writeFile(t, t.TempDir(), "c.yaml", body))
	m.SetEnv(noEnv)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Timetable.Calendar["2025-07-04"]; got == nil || *got != 3 {
		t.Fatalf("calendar 2025-07-04 = %v, want 3", got)
	}
	if got, ok := cfg.Timetable.Calendar["2025-07-05"]; !ok || got != nil {
		t.Fatalf("calendar 2025-07-05 = %v (present %v), want null", got, ok)
	}
}

func TestParseRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]struct {
		name string
		body string
		want string
	}{
		"unknown field":  {"c.json", `{"telegram":{"tokn":"x"}}`, "tokn"},
		"trailing data":  {"c.json", `{} {}`, "trailing"},
		"bad period":     {"c.yaml", "timetable:\n  periods:\n    - {start: '8:45', end: '09:45'}\n", "hhmm"},
		"bad date key":   {"c.yaml", "timetable:\n  calendar:\n    23-06-2025: 1\n", "isodate"},
		"day out range":  {"c.yaml", "timetable:\n  calendar:\n    '2025-07-04': 9\n", "day order"},
		"zero day":       {"c.yaml", "timetable:\n  calendar:\n    '2025-07-04': 0\n", "min"},
		"bad timezone":   {"c.yaml", "timetable:\n  timezone: Mars/Olympus\n", "timezone"},
		"bad duration":   {"c.yaml", "announce:\n  lead: soon\n", "announce.lead"},
		"announce no id": {"c.yaml", "announce:\n  enabled: true\n", "chat_id"},
		"storage path":   {"c.yaml", "storage:\n  driver: sqlite\n", "storage.path"},
		"short day": {"c.yaml", `timetable:
  periods:
    - {start: "09:00", end: "10:00"}
  days:
    - [A, B]
`, "subjects"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := writeFile(t, t.TempDir(), tc.name, tc.body)
			m := NewManager(p)
			m.SetEnv(noEnv)
			_, err := m.Parse()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Parse err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}

func TestCustomTimetable(t *testing.T) {
	t.Parallel()
	body := `{
  "timetable": {
    "periods": [{"start": "09:00", "end": "10:00"}, {"start": "10:00", "end": "11:00"}],
    "days": [["Maths", "Physics"], ["Chemistry", "Biology"]],
    "calendar": {"2026-01-05": 2},
    "default_calendar": false
  }
}`
	p := writeFile(t, t.TempDir(), "c.json", body)
	m := NewManager(p)
	m.SetEnv(noEnv)
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	tt, cal, _, err := cfg.Timetable.BuildTimetable()
	if err != nil {
		t.Fatalf("BuildTimetable: %v", err)
	}
	if len(cal) != 1 {
		t.Fatalf("calendar has %d entries, want only the configured one", len(cal))
	}
	r, err := timetable.NewResolver(tt, cal, time.UTC)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	st := r.Resolve(time.Date(2026, 1, 5, 10, 30, 0, 0, time.UTC))
	if sub, ok := st.CurrentSubject(); !ok || sub != "Biology" {
		t.Fatalf("current subject = %q %v, want Biology", sub, ok)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "c.json", `{"telegram":{"token":"file-token"}}`)
	m := NewManager(p)
	env := map[string]string{
		EnvTelegramToken:  "env-token",
		EnvDashboardToken: "dash",
		EnvTimezone:       "UTC",
	}
	m.SetEnv(func(k string) string { return env[k] })
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Dashboard.Token != "dash" {
		t.Fatalf("env not applied: %+v %+v", cfg.Telegram, cfg.Dashboard)
	}
	if cfg.Timetable == nil || cfg.Timetable.Timezone != "UTC" {
		t.Fatalf("timezone env not applied")
	}
}

func TestSummarizeChangeNeverLeaksTokens(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "secret-a"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "secret-b"}, Dashboard: DashboardConfig{Enabled: true, Token: "secret-c"}}
	changed, fields := SummarizeChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "telegram,dashboard" {
		t.Fatalf("changed = %v", changed)
	}
	if len(fields) == 0 {
		t.Fatalf("no fields")
	}
	if c, _ := SummarizeChange(newCfg, newCfg); len(c) != 0 {
		t.Fatalf("identical configs reported changes: %v", c)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{"logging":{"level":"info"}}`)
	m := NewManager(p)
	m.SetEnv(noEnv)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register the directory.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		writeFile(t, dir, "c.json", `{"logging":{"level":"debug"}}`)
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("published level = %q", cfg.Logging.Level)
			}
			if m.Get().Logging.Level != "debug" {
				t.Fatalf("reload not committed")
			}
			return
		case <-tick.C:
		case <-deadline:
			t.Fatalf("no reload published")
		}
	}
}
