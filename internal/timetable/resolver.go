package timetable

import (
	"fmt"
	"time"
)

const (
	NoDayOrder = -1
	NoPeriod   = -1
)

type CountdownKind string

const (
	// CountdownIn counts down to the end of the active period.
	CountdownIn CountdownKind = "in"
	// CountdownBefore counts down to the start of the upcoming period.
	CountdownBefore CountdownKind = "before"
)

// Countdown points at the next period boundary.
type Countdown struct {
	Kind    CountdownKind
	Period  int // 0-based
	Seconds int
}

func (c Countdown) Left() time.Duration { return time.Duration(c.Seconds) * time.Second }

// Status is everything derived from one instant.
type Status struct {
	At       time.Time
	Date     string
	DayOrder int // 0-based or NoDayOrder
	Holiday  bool
	Subjects []string
	Current  int // 0-based or NoPeriod
	Next     *Countdown
}

func (s Status) HasDayOrder() bool { return s.DayOrder != NoDayOrder }

func (s Status) CurrentSubject() (string, bool) {
	if s.Current == NoPeriod || s.Current >= len(s.Subjects) {
		return "", false
	}
	return s.Subjects[s.Current], true
}

// Resolver answers schedule questions for one immutable timetable and
// calendar. All methods are safe for concurrent use.
type Resolver struct {
	tt  Timetable
	cal Calendar
	loc *time.Location
}

// NewResolver validates tt and cal. A nil loc means time.Local.
func NewResolver(tt Timetable, cal Calendar, loc *time.Location) (*Resolver, error) {
	if err := tt.Validate(); err != nil {
		return nil, err
	}
	if err := cal.validate(len(tt.Days)); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{tt: tt.clone(), cal: cal.Overlay(nil), loc: loc}, nil
}

func (r *Resolver) Location() *time.Location { return r.loc }

// Periods returns a copy of the period windows.
func (r *Resolver) Periods() []Period { return append([]Period(nil), r.tt.Periods...) }

// Days returns a copy of every day order's subjects.
func (r *Resolver) Days() []Day { return r.tt.clone().Days }

// Day returns the subjects of the 0-based day order n.
func (r *Resolver) Day(n int) (Day, bool) {
	if n < 0 || n >= len(r.tt.Days) {
		return nil, false
	}
	return append(Day(nil), r.tt.Days[n]...), true
}

// Calendar returns a copy of the effective calendar.
func (r *Resolver) Calendar() Calendar { return r.cal.Overlay(nil) }

// DayOrderOn looks up the day order of a date in the resolver's zone.
func (r *Resolver) DayOrderOn(date time.Time) (int, bool) {
	return r.cal.Lookup(date.In(r.loc).Format(DateLayout))
}

// Resolve is total: unknown dates and out-of-hours instants are ordinary
// results, never errors.
func (r *Resolver) Resolve(now time.Time) Status {
	now = now.In(r.loc)
	st := Status{
		At:       now,
		Date:     now.Format(DateLayout),
		DayOrder: NoDayOrder,
		Current:  NoPeriod,
	}
	if e, ok := r.cal[st.Date]; ok && e.Holiday {
		st.Holiday = true
	}
	d, ok := r.cal.Lookup(st.Date)
	if !ok {
		return st
	}
	st.DayOrder = d
	st.Subjects = append([]string(nil), r.tt.Days[d]...)

	sec := TimeOfDayOf(now)
	st.Current = r.currentPeriod(sec)
	st.Next = r.nextBoundary(sec)
	return st
}

// currentPeriod returns the first window containing sec.
func (r *Resolver) currentPeriod(sec TimeOfDay) int {
	for i, p := range r.tt.Periods {
		if p.Contains(sec) {
			return i
		}
	}
	return NoPeriod
}

func (r *Resolver) nextBoundary(sec TimeOfDay) *Countdown {
	for i, p := range r.tt.Periods {
		if p.Contains(sec) {
			return &Countdown{Kind: CountdownIn, Period: i, Seconds: clampSeconds(p.End - sec)}
		}
		if sec < p.Start {
			return &Countdown{Kind: CountdownBefore, Period: i, Seconds: clampSeconds(p.Start - sec)}
		}
	}
	return nil
}

func clampSeconds(d TimeOfDay) int {
	if d < 0 {
		return 0
	}
	return int(d)
}

// ScheduledDay is one dated school day.
type ScheduledDay struct {
	Date     time.Time
	DayOrder int
	Note     string
}

// Upcoming lists up to n dated school days starting on from's date,
// scanning at most a year ahead.
func (r *Resolver) Upcoming(from time.Time, n int) []ScheduledDay {
	if n <= 0 {
		return nil
	}
	from = from.In(r.loc)
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, r.loc)
	out := make([]ScheduledDay, 0, n)
	for i := 0; i < 366 && len(out) < n; i++ {
		key := day.Format(DateLayout)
		if d, ok := r.cal.Lookup(key); ok {
			out = append(out, ScheduledDay{Date: day, DayOrder: d, Note: r.cal[key].Note})
		}
		day = day.AddDate(0, 0, 1)
	}
	return out
}

// PeriodTimes places period n of the given date in the resolver's zone.
func (r *Resolver) PeriodTimes(date time.Time, n int) (start, end time.Time, err error) {
	if n < 0 || n >= len(r.tt.Periods) {
		return time.Time{}, time.Time{}, fmt.Errorf("period %d out of range", n+1)
	}
	date = date.In(r.loc)
	p := r.tt.Periods[n]
	return p.Start.On(date), p.End.On(date), nil
}
