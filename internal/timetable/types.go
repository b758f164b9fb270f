package timetable

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar key format.
const DateLayout = "2006-01-02"

// TimeOfDay counts seconds since local midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return 0, fmt.Errorf("time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("time %q: bad hour", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q: bad minute", s)
	}
	return TimeOfDay(h*3600 + m*60), nil
}

func MustTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

// TimeOfDayOf returns the second-of-day of t in t's own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(h*3600 + m*60 + s)
}

func (t TimeOfDay) Hour() int   { return int(t) / 3600 }
func (t TimeOfDay) Minute() int { return int(t) % 3600 / 60 }

// String renders "HH:MM"; seconds are dropped.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// On places t on the calendar day of date.
func (t TimeOfDay) On(date time.Time) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, 0, 0, int(t), 0, date.Location())
}

// Period is a half-open window [Start, End).
type Period struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

func (p Period) Contains(t TimeOfDay) bool { return t >= p.Start && t < p.End }

// Seconds is the window length.
func (p Period) Seconds() int { return int(p.End - p.Start) }

// Day lists one subject per period for a single day order.
type Day []string

// Timetable is the static part of the schedule: period windows and the
// subjects of every day order.
type Timetable struct {
	Periods []Period
	Days    []Day
}

// Validate checks that windows are sorted, disjoint and non-empty and that
// every day has exactly one subject per period.
func (tt Timetable) Validate() error {
	if len(tt.Periods) == 0 {
		return fmt.Errorf("%w: no periods", ErrInvalidTimetable)
	}
	if len(tt.Days) == 0 {
		return fmt.Errorf("%w: no day orders", ErrInvalidTimetable)
	}
	for i, p := range tt.Periods {
		if p.Start >= p.End {
			return fmt.Errorf("%w: period %d starts at or after its end", ErrInvalidTimetable, i+1)
		}
		if p.End > 24*3600 {
			return fmt.Errorf("%w: period %d ends after midnight", ErrInvalidTimetable, i+1)
		}
		if i > 0 && p.Start < tt.Periods[i-1].End {
			return fmt.Errorf("%w: period %d overlaps period %d", ErrInvalidTimetable, i+1, i)
		}
	}
	for i, d := range tt.Days {
		if len(d) != len(tt.Periods) {
			return fmt.Errorf("%w: day %d has %d subjects, want %d", ErrInvalidTimetable, i+1, len(d), len(tt.Periods))
		}
	}
	return nil
}

func (tt Timetable) clone() Timetable {
	out := Timetable{Periods: append([]Period(nil), tt.Periods...), Days: make([]Day, len(tt.Days))}
	for i, d := range tt.Days {
		out.Days[i] = append(Day(nil), d...)
	}
	return out
}

// Entry is one dated calendar row. Holiday entries mark a date with no
// timetable even if a lower layer maps it.
type Entry struct {
	DayOrder int    `json:"day_order"`
	Holiday  bool   `json:"holiday,omitempty"`
	Note     string `json:"note,omitempty"`
}

// Calendar maps YYYY-MM-DD dates to entries. Missing dates have no timetable.
type Calendar map[string]Entry

// Lookup returns the 0-based day order for date.
func (c Calendar) Lookup(date string) (int, bool) {
	e, ok := c[date]
	if !ok || e.Holiday {
		return NoDayOrder, false
	}
	return e.DayOrder, true
}

// Overlay returns a copy of c with every entry of top applied over it.
func (c Calendar) Overlay(top Calendar) Calendar {
	out := make(Calendar, len(c)+len(top))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}

// Dates returns the calendar keys in ascending order.
func (c Calendar) Dates() []string {
	out := make([]string, 0, len(c))
	for k := range c {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c Calendar) validate(days int) error {
	for date, e := range c {
		if _, err := time.Parse(DateLayout, date); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidDate, date)
		}
		if !e.Holiday && (e.DayOrder < 0 || e.DayOrder >= days) {
			return fmt.Errorf("%w: %s maps to day %d, have %d day orders", ErrInvalidDayOrder, date, e.DayOrder+1, days)
		}
	}
	return nil
}
