package dashboard

import (
	"fmt"
	"net/http"
	"time"

	ics "github.com/arran4/golang-ical"

	"dayorder/internal/timetable"
)

const (
	defaultICSDays = 30
	maxICSDays     = 120
)

// buildICS renders one VEVENT per period of the next n dated school days.
func buildICS(r *timetable.Resolver, from time.Time, n int, name string, stamp time.Time) string {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//dayorder//timetable//EN")
	cal.SetXWRCalName(name)
	cal.SetXWRTimezone(r.Location().String())

	for _, day := range r.Upcoming(from, n) {
		subjects, _ := r.Day(day.DayOrder)
		date := day.Date.Format(timetable.DateLayout)
		for i := range r.Periods() {
			start, end, err := r.PeriodTimes(day.Date, i)
			if err != nil {
				continue
			}
			subj := "Free"
			if i < len(subjects) {
				subj = subjects[i]
			}
			ev := cal.AddEvent(fmt.Sprintf("%s-p%d@dayorder", date, i+1))
			ev.SetDtStampTime(stamp)
			ev.SetStartAt(start)
			ev.SetEndAt(end)
			ev.SetSummary(fmt.Sprintf("P%d %s", i+1, subj))
			desc := timetable.DayLabel(day.DayOrder) + ", " + timetable.PeriodLabel(i)
			if day.Note != "" {
				desc += " (" + day.Note + ")"
			}
			ev.SetDescription(desc)
		}
	}
	return cal.Serialize()
}

func (s *Service) handleICS(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r, "days", defaultICSDays, maxICSDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	now := s.now()
	body := buildICS(s.deps.Timetable.Resolver(), now, days, s.title(), now)
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="dayorder.ics"`)
	_, _ = w.Write([]byte(body))
}
