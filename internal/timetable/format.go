package timetable

import (
	"fmt"
	"time"
)

// FormatDate renders DD/MM/YYYY.
func FormatDate(t time.Time) string { return t.Format("02/01/2006") }

// FormatClock renders the compact wall clock used by the dashboard, e.g. 9:05:03AM.
func FormatClock(t time.Time) string { return t.Format("3:04:05PM") }

// Weekday renders the full English weekday name.
func Weekday(t time.Time) string { return t.Weekday().String() }

// To12Hour renders a time of day as "hh:mm AM" with a zero-padded hour.
func To12Hour(t TimeOfDay) string {
	h := t.Hour()
	ampm := "AM"
	if h >= 12 {
		ampm = "PM"
	}
	h %= 12
	if h == 0 {
		h = 12
	}
	return fmt.Sprintf("%02d:%02d %s", h, t.Minute(), ampm)
}

// FormatCountdown renders whole seconds as MM:SS. Minutes are not wrapped
// into hours, so 2h reads "120:00". Negative input renders as 00:00.
func FormatCountdown(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// DayLabel renders "Day N" for a 0-based day order.
func DayLabel(dayOrder int) string {
	if dayOrder == NoDayOrder {
		return "No Timetable Today"
	}
	return fmt.Sprintf("Day %d", dayOrder+1)
}

// PeriodLabel renders "Period N" for a 0-based period.
func PeriodLabel(period int) string { return fmt.Sprintf("Period %d", period+1) }

// Range renders "08:45 AM - 09:45 AM".
func (p Period) Range() string { return To12Hour(p.Start) + " - " + To12Hour(p.End) }

// Headline is a one-line summary of the countdown.
func (s Status) Headline() string {
	if !s.HasDayOrder() {
		return "No Timetable Today"
	}
	if s.Next == nil {
		return "Classes are over for today"
	}
	switch s.Next.Kind {
	case CountdownIn:
		return fmt.Sprintf("%s ends in %s", PeriodLabel(s.Next.Period), FormatCountdown(s.Next.Seconds))
	default:
		return fmt.Sprintf("%s starts in %s", PeriodLabel(s.Next.Period), FormatCountdown(s.Next.Seconds))
	}
}
