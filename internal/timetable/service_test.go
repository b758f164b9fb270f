package timetable

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"dayorder/internal/clock"
	"dayorder/internal/eventbus"
	"dayorder/internal/storage"
	"dayorder/pkg/logx"
)

func newTestService(t *testing.T, store storage.Store, bus eventbus.Bus) *Service {
	t.Helper()
	svc, err := NewService(DefaultTimetable(), DefaultCalendar(), time.UTC, store, bus, logx.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func openFileStore(t *testing.T, path string) storage.Store {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestServiceOverridePublishesAndPersists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "dayorder.db")
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4, EventCalendarChanged)
	defer unsub()

	svc := newTestService(t, openFileStore(t, path), bus)
	noon := at(t, "2025-07-04 09:00:00")
	if st := svc.Status(noon); st.HasDayOrder() {
		t.Fatalf("2025-07-04 has day order %d before override", st.DayOrder)
	}

	by := Actor{Name: "owner", ChatID: 42, Surface: "telegram"}
	if _, err := svc.SetOverride(ctx, "2025-07-04", 2, false, "makeup day", by); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	st := svc.Status(noon)
	if st.DayOrder != 2 || st.Current != 0 {
		t.Fatalf("after override DayOrder = %d Current = %d, want 2 0", st.DayOrder, st.Current)
	}

	select {
	case ev := <-events:
		ch := ev.Data.(CalendarChange)
		if ch.Date != "2025-07-04" || ch.Entry == nil || ch.Entry.DayOrder != 2 || ch.Actor.Name != "owner" {
			t.Fatalf("event = %+v", ch)
		}
	default:
		t.Fatalf("no calendar_changed event")
	}

	// A fresh service over the same store sees the override.
	svc2 := newTestService(t, openFileStore(t, path), nil)
	if err := svc2.LoadOverrides(ctx); err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if got := svc2.Status(noon).DayOrder; got != 2 {
		t.Fatalf("reloaded DayOrder = %d, want 2", got)
	}
	if n := len(svc2.Overrides()); n != 1 {
		t.Fatalf("Overrides() len = %d, want 1", n)
	}
}

func TestServiceOverrideUsesInjectedClock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	stamp := time.Date(2025, 7, 1, 8, 30, 0, 0, time.UTC)
	store := openFileStore(t, filepath.Join(t.TempDir(), "dayorder"))
	svc := newTestService(t, store, nil)
	svc.SetClock(clock.NewFixed(stamp))

	if _, err := svc.SetOverride(ctx, "2025-07-04", 1, false, "", Actor{Name: "owner"}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	ovs := svc.Overrides()
	if len(ovs) != 1 || !ovs[0].UpdatedAt.Equal(stamp) {
		t.Fatalf("overrides = %+v, want UpdatedAt %s", ovs, stamp)
	}
	entries, err := store.ListAudit(ctx, 10)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(entries) != 1 || !entries[0].At.Equal(stamp) {
		t.Fatalf("audit = %+v, want At %s", entries, stamp)
	}
}

func TestServiceHolidayOverrideMasksConfiguredDay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t, nil, nil)
	when := at(t, "2025-06-23 09:00:00")

	if _, err := svc.SetOverride(ctx, "2025-06-23", 0, true, "strike", Actor{Name: "owner"}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}
	st := svc.Status(when)
	if st.HasDayOrder() || !st.Holiday || st.Next != nil {
		t.Fatalf("holiday status = %+v", st)
	}

	ok, err := svc.ClearOverride(ctx, "2025-06-23", Actor{Name: "owner"})
	if err != nil || !ok {
		t.Fatalf("ClearOverride = %v, %v; want true, nil", ok, err)
	}
	if got := svc.Status(when).DayOrder; got != 0 {
		t.Fatalf("after clear DayOrder = %d, want 0", got)
	}
	ok, err = svc.ClearOverride(ctx, "2025-06-23", Actor{Name: "owner"})
	if err != nil || ok {
		t.Fatalf("second ClearOverride = %v, %v; want false, nil", ok, err)
	}
}

func TestServiceRejectsBadOverrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t, nil, nil)

	if _, err := svc.SetOverride(ctx, "2025-13-40", 0, false, "", Actor{}); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("bad date err = %v, want ErrInvalidDate", err)
	}
	if _, err := svc.SetOverride(ctx, "2025-07-04", 5, false, "", Actor{}); !errors.Is(err, ErrInvalidDayOrder) {
		t.Fatalf("day 6 err = %v, want ErrInvalidDayOrder", err)
	}
	if _, err := svc.ClearOverride(ctx, "tomorrow", Actor{}); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("clear bad date err = %v, want ErrInvalidDate", err)
	}
	if n := len(svc.Overrides()); n != 0 {
		t.Fatalf("Overrides() len = %d, want 0", n)
	}
}

func TestServiceApplyKeepsOverrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := newTestService(t, nil, nil)
	if _, err := svc.SetOverride(ctx, "2025-07-04", 1, false, "", Actor{}); err != nil {
		t.Fatalf("SetOverride: %v", err)
	}

	if err := svc.Apply(DefaultTimetable(), Calendar{}, time.UTC); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := svc.Status(at(t, "2025-07-04 09:00:00")).DayOrder; got != 1 {
		t.Fatalf("override lost after Apply: DayOrder = %d", got)
	}
	if svc.Status(at(t, "2025-06-23 09:00:00")).HasDayOrder() {
		t.Fatalf("base calendar not replaced by Apply")
	}

	bad := DefaultTimetable()
	bad.Periods = nil
	if err := svc.Apply(bad, Calendar{}, time.UTC); err == nil {
		t.Fatalf("Apply accepted empty timetable")
	}
	if got := svc.Status(at(t, "2025-07-04 09:00:00")).DayOrder; got != 1 {
		t.Fatalf("failed Apply changed state: DayOrder = %d", got)
	}
}

func TestPublisherEmitsChanges(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ticks, unsubTicks := bus.Subscribe(8, EventTick)
	defer unsubTicks()
	changes, unsub := bus.Subscribe(8, EventPeriodChanged, EventDayChanged)
	defer unsub()

	p := NewPublisher(newTestService(t, nil, nil), bus, logx.Nop())
	p.OnTick(at(t, "2025-06-23 09:44:59"))
	if len(changes) != 0 {
		t.Fatalf("priming tick published %d changes", len(changes))
	}
	p.OnTick(at(t, "2025-06-23 09:45:00"))

	if len(ticks) != 2 {
		t.Fatalf("tick events = %d, want 2", len(ticks))
	}
	ev := <-changes
	if ev.Type != EventPeriodChanged {
		t.Fatalf("event type = %s, want %s", ev.Type, EventPeriodChanged)
	}
	pc := ev.Data.(PeriodChange)
	if pc.From != 0 || pc.To != 1 {
		t.Fatalf("PeriodChange = %d -> %d, want 0 -> 1", pc.From, pc.To)
	}

	p.OnTick(at(t, "2025-06-24 09:45:00"))
	ev = <-changes
	if ev.Type != EventDayChanged {
		t.Fatalf("event type = %s, want %s", ev.Type, EventDayChanged)
	}
	if got := ev.Data.(Status).DayOrder; got != 1 {
		t.Fatalf("DayOrder = %d, want 1", got)
	}
	if len(changes) != 0 {
		t.Fatalf("unexpected extra events: %d", len(changes))
	}
}
