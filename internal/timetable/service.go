package timetable

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dayorder/internal/clock"
	"dayorder/internal/eventbus"
	"dayorder/internal/storage"
	"dayorder/pkg/logx"
)

// Service holds the authoritative Resolver. The configured timetable and
// calendar form the base layer; operator overrides sit on top and are
// persisted when a store is configured.
type Service struct {
	log   logx.Logger
	store storage.Store
	bus   eventbus.Bus
	clk   atomic.Pointer[clock.Clock]

	mu        sync.Mutex // serializes rebuilds
	tt        Timetable
	base      Calendar
	loc       *time.Location
	overrides map[string]storage.CalendarOverride

	current atomic.Pointer[Resolver]
}

// NewService builds the initial resolver. store and bus may be nil.
func NewService(tt Timetable, cal Calendar, loc *time.Location, store storage.Store, bus eventbus.Bus, log logx.Logger) (*Service, error) {
	s := &Service{
		log:       log.With(logx.Comp("timetable")),
		store:     store,
		bus:       bus,
		overrides: map[string]storage.CalendarOverride{},
	}
	s.SetClock(clock.System)
	if err := s.Apply(tt, cal, loc); err != nil {
		return nil, err
	}
	return s, nil
}

// SetClock sets the clock used to stamp overrides and audit entries.
func (s *Service) SetClock(c clock.Clock) {
	if c == nil {
		c = clock.System
	}
	s.clk.Store(&c)
}

func (s *Service) now() time.Time { return (*s.clk.Load()).Now() }

// LoadOverrides reads persisted overrides. Rows that no longer fit the
// timetable are skipped with a warning.
func (s *Service) LoadOverrides(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	rows, err := s.store.ListOverrides(ctx)
	if err != nil {
		return fmt.Errorf("load calendar overrides: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range rows {
		if err := s.checkOverrideLocked(o); err != nil {
			s.log.Warn("skipping stored calendar override", logx.String("date", o.Date), logx.Err(err))
			continue
		}
		s.overrides[o.Date] = o
	}
	if err := s.rebuildLocked(); err != nil {
		return err
	}
	s.log.Info("calendar overrides loaded", logx.Int("count", len(s.overrides)))
	return nil
}

// Apply swaps the configured layer, keeping overrides.
func (s *Service) Apply(tt Timetable, cal Calendar, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prevTT, prevBase, prevLoc := s.tt, s.base, s.loc
	s.tt, s.base, s.loc = tt, cal, loc
	if err := s.rebuildLocked(); err != nil {
		s.tt, s.base, s.loc = prevTT, prevBase, prevLoc
		return err
	}
	return nil
}

func (s *Service) rebuildLocked() error {
	top := make(Calendar, len(s.overrides))
	for date, o := range s.overrides {
		top[date] = overrideEntry(o)
	}
	r, err := NewResolver(s.tt, s.base.Overlay(top), s.loc)
	if err != nil {
		return err
	}
	s.current.Store(r)
	return nil
}

func overrideEntry(o storage.CalendarOverride) Entry {
	return Entry{DayOrder: o.DayOrder, Holiday: o.Holiday, Note: o.Note}
}

// Resolver returns the current immutable snapshot.
func (s *Service) Resolver() *Resolver { return s.current.Load() }

func (s *Service) Status(now time.Time) Status { return s.current.Load().Resolve(now) }

// ParseDate parses YYYY-MM-DD in the service's zone.
func (s *Service) ParseDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(raw), s.Resolver().Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q (want YYYY-MM-DD)", ErrInvalidDate, raw)
	}
	return t, nil
}

func (s *Service) checkOverrideLocked(o storage.CalendarOverride) error {
	if _, err := time.Parse(DateLayout, o.Date); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidDate, o.Date)
	}
	if !o.Holiday && (o.DayOrder < 0 || o.DayOrder >= len(s.tt.Days)) {
		return fmt.Errorf("%w: day %d (have %d)", ErrInvalidDayOrder, o.DayOrder+1, len(s.tt.Days))
	}
	return nil
}

// SetOverride maps date to a 0-based day order, or marks it a holiday.
func (s *Service) SetOverride(ctx context.Context, date string, dayOrder int, holiday bool, note string, by Actor) (Entry, error) {
	o := storage.CalendarOverride{
		Date:      strings.TrimSpace(date),
		DayOrder:  dayOrder,
		Holiday:   holiday,
		Note:      strings.TrimSpace(note),
		UpdatedBy: by.Name,
		UpdatedAt: s.now(),
	}
	if holiday {
		o.DayOrder = 0
	}

	s.mu.Lock()
	if err := s.checkOverrideLocked(o); err != nil {
		s.mu.Unlock()
		return Entry{}, err
	}
	if s.store != nil {
		if err := s.store.PutOverride(ctx, o); err != nil {
			s.mu.Unlock()
			return Entry{}, fmt.Errorf("persist override: %w", err)
		}
	}
	s.overrides[o.Date] = o
	err := s.rebuildLocked()
	s.mu.Unlock()
	if err != nil {
		return Entry{}, err
	}

	e := overrideEntry(o)
	s.audit(ctx, by, "calendar.set", o.Date, describeEntry(e))
	s.publish(CalendarChange{Date: o.Date, Entry: &e, Actor: by})
	s.log.Info("calendar override set", logx.String("date", o.Date), logx.String("entry", describeEntry(e)), logx.String("by", by.Name))
	return e, nil
}

// ClearOverride removes an override; the configured entry applies again.
func (s *Service) ClearOverride(ctx context.Context, date string, by Actor) (bool, error) {
	date = strings.TrimSpace(date)
	if _, err := time.Parse(DateLayout, date); err != nil {
		return false, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}

	s.mu.Lock()
	_, had := s.overrides[date]
	if s.store != nil {
		existed, err := s.store.DeleteOverride(ctx, date)
		if err != nil {
			s.mu.Unlock()
			return false, fmt.Errorf("delete override: %w", err)
		}
		had = had || existed
	}
	delete(s.overrides, date)
	err := s.rebuildLocked()
	s.mu.Unlock()
	if err != nil || !had {
		return false, err
	}

	s.audit(ctx, by, "calendar.clear", date, "")
	s.publish(CalendarChange{Date: date, Actor: by})
	s.log.Info("calendar override cleared", logx.String("date", date), logx.String("by", by.Name))
	return true, nil
}

// Overrides lists active overrides by date.
func (s *Service) Overrides() []storage.CalendarOverride {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.CalendarOverride, 0, len(s.overrides))
	for _, date := range sortedKeys(s.overrides) {
		out = append(out, s.overrides[date])
	}
	return out
}

func (s *Service) audit(ctx context.Context, by Actor, action, target, detail string) {
	if s.store == nil {
		return
	}
	err := s.store.AppendAudit(ctx, storage.AuditEntry{
		At:      s.now(),
		Actor:   by.Name,
		ChatID:  by.ChatID,
		Action:  action,
		Target:  target,
		Detail:  detail,
		Surface: by.Surface,
	})
	if err != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (s *Service) publish(ch CalendarChange) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: EventCalendarChanged, Data: ch})
	}
}

func describeEntry(e Entry) string {
	if e.Holiday {
		return "no timetable"
	}
	return DayLabel(e.DayOrder)
}

func sortedKeys(m map[string]storage.CalendarOverride) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
