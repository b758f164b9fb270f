package timetable

// Event types published on the event bus.
const (
	EventTick            = "timetable.tick"
	EventPeriodChanged   = "timetable.period_changed"
	EventDayChanged      = "timetable.day_changed"
	EventCalendarChanged = "timetable.calendar_changed"
)

// PeriodChange is the payload of EventPeriodChanged. From and To are
// 0-based period indexes or NoPeriod.
type PeriodChange struct {
	From   int
	To     int
	Status Status
}

// CalendarChange is the payload of EventCalendarChanged. A nil Entry means
// the override was cleared.
type CalendarChange struct {
	Date  string
	Entry *Entry
	Actor Actor
}

// Actor identifies who changed the calendar.
type Actor struct {
	Name    string
	ChatID  int64
	Surface string // "telegram", "http"
}
