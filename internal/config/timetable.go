package config

import (
	"fmt"
	"strings"
	"time"

	"dayorder/internal/timetable"
)

// BuildTimetable overlays the timetable section on the compiled-in
// defaults. A nil receiver yields the defaults in time.Local.
func (t *TimetableConfig) BuildTimetable() (timetable.Timetable, timetable.Calendar, *time.Location, error) {
	tt := timetable.DefaultTimetable()
	cal := timetable.DefaultCalendar()
	if t == nil {
		return tt, cal, time.Local, nil
	}

	loc := time.Local
	if tz := strings.TrimSpace(t.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return tt, cal, nil, fmt.Errorf("timetable.timezone: %w", err)
		}
		loc = l
	}

	if len(t.Periods) > 0 {
		tt.Periods = make([]timetable.Period, 0, len(t.Periods))
		for i, p := range t.Periods {
			start, err := timetable.ParseTimeOfDay(p.Start)
			if err != nil {
				return tt, cal, nil, fmt.Errorf("timetable.periods[%d].start: %w", i, err)
			}
			end, err := timetable.ParseTimeOfDay(p.End)
			if err != nil {
				return tt, cal, nil, fmt.Errorf("timetable.periods[%d].end: %w", i, err)
			}
			tt.Periods = append(tt.Periods, timetable.Period{Start: start, End: end})
		}
	}
	if len(t.Days) > 0 {
		tt.Days = make([]timetable.Day, 0, len(t.Days))
		for _, d := range t.Days {
			tt.Days = append(tt.Days, append(timetable.Day(nil), d...))
		}
	}

	if t.DefaultCalendar != nil && !*t.DefaultCalendar {
		cal = timetable.Calendar{}
	}
	top := make(timetable.Calendar, len(t.Calendar))
	for date, day := range t.Calendar {
		if day == nil {
			top[date] = timetable.Entry{Holiday: true}
			continue
		}
		top[date] = timetable.Entry{DayOrder: *day - 1}
	}
	return tt, cal.Overlay(top), loc, nil
}
