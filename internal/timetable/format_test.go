package timetable

import (
	"testing"
	"time"
)

func TestTo12Hour(t *testing.T) {
	cases := map[string]string{
		"00:05": "12:05 AM",
		"08:45": "08:45 AM",
		"12:15": "12:15 PM",
		"13:15": "01:15 PM",
		"23:59": "11:59 PM",
	}
	for in, want := range cases {
		if got := To12Hour(MustTimeOfDay(in)); got != want {
			t.Fatalf("To12Hour(%s) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatCountdown(t *testing.T) {
	cases := []struct {
		in   int
		want string
	}{
		{0, "00:00"},
		{59, "00:59"},
		{2700, "45:00"},
		{7261, "121:01"},
		{-5, "00:00"},
	}
	for _, tc := range cases {
		if got := FormatCountdown(tc.in); got != tc.want {
			t.Fatalf("FormatCountdown(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDateAndClockFormats(t *testing.T) {
	ts := time.Date(2025, 6, 23, 9, 5, 3, 0, time.UTC)
	if got := FormatDate(ts); got != "23/06/2025" {
		t.Fatalf("FormatDate = %q", got)
	}
	if got := FormatClock(ts); got != "9:05:03AM" {
		t.Fatalf("FormatClock = %q", got)
	}
	if got := Weekday(ts); got != "Monday" {
		t.Fatalf("Weekday = %q", got)
	}
	if got := DayLabel(2); got != "Day 3" {
		t.Fatalf("DayLabel = %q", got)
	}
	if got := DayLabel(NoDayOrder); got != "No Timetable Today" {
		t.Fatalf("DayLabel(none) = %q", got)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	for _, bad := range []string{"8:45", "24:00", "08:60", "0845", "ab:cd"} {
		if _, err := ParseTimeOfDay(bad); err == nil {
			t.Fatalf("ParseTimeOfDay(%q) succeeded", bad)
		}
	}
	got, err := ParseTimeOfDay(" 14:15 ")
	if err != nil || got.String() != "14:15" {
		t.Fatalf("ParseTimeOfDay = %v, %v", got, err)
	}
}
