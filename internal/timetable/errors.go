package timetable

import "errors"

var (
	ErrInvalidTimetable = errors.New("timetable: invalid timetable")
	ErrInvalidDate      = errors.New("timetable: invalid date")
	ErrInvalidDayOrder  = errors.New("timetable: invalid day order")
)
