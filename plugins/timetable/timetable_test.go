package timetable

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"dayorder/internal/clock"
	tt "dayorder/internal/timetable"
	"dayorder/internal/transport"
	"dayorder/internal/transport/telegram/router"
	"dayorder/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	last string
	opt  *transport.SendOptions
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                         { return nil }
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error {
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last, f.opt = text, opt
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeAdapter) EditText(_ context.Context, _ transport.MessageRef, text string, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last, f.opt = "edit:"+text, opt
	return nil
}

const owner = 1

func setup(t *testing.T, now time.Time) (*router.CommandManager, *fakeAdapter, *tt.Service) {
	t.Helper()
	svc, err := tt.NewService(tt.DefaultTimetable(), tt.DefaultCalendar(), time.UTC, nil, nil, logx.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	ad := &fakeAdapter{}
	m := router.New(ad, &router.Services{Timetable: svc, Clock: clock.NewFixed(now)}, logx.Nop())
	m.Apply(router.Config{Owners: []int64{owner}})
	p := New()
	if err := m.Register(p.Commands(), p.Callbacks()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return m, ad, svc
}

func send(m *router.CommandManager, from int64, text string) {
	m.Handle(context.Background(), transport.Update{
		Kind:    transport.UpdateMessage,
		Message: &transport.Message{ChatID: 10, FromID: from, FromUsername: "alice", Text: text},
	})
}

func mustContain(t *testing.T, got string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(got, w) {
			t.Fatalf("reply %q does not contain %q", got, w)
		}
	}
}

func TestNow(t *testing.T) {
	t.Parallel()
	m, ad, _ := setup(t, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	send(m, 2, "/now")
	mustContain(t, ad.last, "Monday 23/06/2025", "9:00:00AM", "Day 1", "Period 1 ends in 45:00", "Information Security")
}

func TestNowWithoutTimetable(t *testing.T) {
	t.Parallel()
	m, ad, _ := setup(t, time.Date(2025, 6, 29, 9, 0, 0, 0, time.UTC))
	send(m, 2, "/now")
	mustContain(t, ad.last, "No Timetable Today")
}

func TestToday(t *testing.T) {
	t.Parallel()
	m, ad, _ := setup(t, time.Date(2025, 6, 24, 10, 0, 0, 0, time.UTC))
	send(m, 2, "/today")
	mustContain(t, ad.last, "Day 2", "▶️ <code>09:45 AM - 10:45 AM</code> Information Security")
}

func TestWeekAndCallback(t *testing.T) {
	t.Parallel()
	m, ad, _ := setup(t, time.Date(2025, 6, 25, 9, 0, 0, 0, time.UTC))
	send(m, 2, "/week")
	mustContain(t, ad.last, "Day 3")
	if ad.opt == nil || len(ad.opt.Keyboard) == 0 || len(ad.opt.Keyboard[0]) != 5 {
		t.Fatalf("week keyboard = %+v", ad.opt)
	}
	if got := ad.opt.Keyboard[0][2].Text; got != "• Day 3 •" {
		t.Fatalf("selected button = %q", got)
	}

	m.Handle(context.Background(), transport.Update{
		Kind:     transport.UpdateCallback,
		Callback: &transport.Callback{ID: "x", ChatID: 10, MessageID: 5, FromID: 2, Data: ad.opt.Keyboard[0][3].Data},
	})
	mustContain(t, ad.last, "edit:", "Day 4", "Digital Image and Video Processing")
}

func TestDayValidation(t *testing.T) {
	t.Parallel()
	m, ad, _ := setup(t, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	send(m, 2, "/day 9")
	if ad.last != "Day order must be a number from 1 to 5." {
		t.Fatalf("reply = %q", ad.last)
	}
	send(m, 2, "/day 5")
	mustContain(t, ad.last, "Day 5", "Tutor Ward Meeting")
}

func TestOn(t *testing.T) {
	t.Parallel()
	m, ad, _ := setup(t, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	send(m, 2, "/on 2025-07-01")
	mustContain(t, ad.last, "Tuesday 01/07/2025", "Day 3")
	send(m, 2, "/on 2025-07-04")
	mustContain(t, ad.last, "No timetable on this date")
	send(m, 2, "/on tomorrow")
	if ad.last != "Invalid date, use YYYY-MM-DD." {
		t.Fatalf("reply = %q", ad.last)
	}
}

func TestCalendarOverrides(t *testing.T) {
	t.Parallel()
	m, ad, svc := setup(t, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))

	send(m, 2, "/calendar set 2025-06-29 3")
	if !strings.Contains(ad.last, "restricted") {
		t.Fatalf("non-owner set reply = %q", ad.last)
	}

	send(m, owner, `/calendar set 2025-06-29 3 --note "makeup day"`)
	if ad.last != "✅ 2025-06-29 is now Day 3" {
		t.Fatalf("set reply = %q", ad.last)
	}
	if d, ok := svc.Resolver().DayOrderOn(time.Date(2025, 6, 29, 12, 0, 0, 0, time.UTC)); !ok || d != 2 {
		t.Fatalf("DayOrderOn = %d, %v, want 2, true", d, ok)
	}

	send(m, owner, "/calendar set 2025-06-24 holiday")
	send(m, 2, "/calendar list 3")
	mustContain(t, ad.last, "23/06/2025: Day 1", "2025-06-24: holiday", "2025-06-29: Day 3 (makeup day) by alice")

	send(m, owner, "/calendar clear 2025-06-29")
	mustContain(t, ad.last, "removed")
	send(m, owner, "/calendar clear 2025-06-29")
	mustContain(t, ad.last, "No override")

	send(m, owner, "/calendar set 2025-06-29 7")
	if ad.last != "Day order must be a number from 1 to 5." {
		t.Fatalf("reply = %q", ad.last)
	}
}
