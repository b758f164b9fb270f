package dashboard

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"dayorder/internal/timetable"
)

const (
	defaultCalendarDays = 14
	maxCalendarDays     = 366
)

type periodJSON struct {
	Number  int    `json:"number"` // 1-based
	Start   string `json:"start"`
	End     string `json:"end"`
	Label   string `json:"label"`
	Subject string `json:"subject,omitempty"`
}

type countdownJSON struct {
	Kind    string `json:"kind"` // "in" or "before"
	Period  int    `json:"period"`
	Seconds int    `json:"seconds"`
	Display string `json:"display"`
}

type statusJSON struct {
	At          time.Time      `json:"at"`
	Date        string         `json:"date"`
	DisplayDate string         `json:"display_date"`
	Weekday     string         `json:"weekday"`
	Clock       string         `json:"clock"`
	DayOrder    *int           `json:"day_order"` // 1-based, null without a timetable
	DayLabel    string         `json:"day_label"`
	Holiday     bool           `json:"holiday,omitempty"`
	Subjects    []string       `json:"subjects"`
	Current     *periodJSON    `json:"current"`
	Next        *countdownJSON `json:"next"`
	Headline    string         `json:"headline"`
}

func newStatusJSON(st timetable.Status, periods []timetable.Period) statusJSON {
	out := statusJSON{
		At:          st.At,
		Date:        st.Date,
		DisplayDate: timetable.FormatDate(st.At),
		Weekday:     timetable.Weekday(st.At),
		Clock:       timetable.FormatClock(st.At),
		DayLabel:    timetable.DayLabel(st.DayOrder),
		Holiday:     st.Holiday,
		Subjects:    st.Subjects,
		Headline:    st.Headline(),
	}
	if out.Subjects == nil {
		out.Subjects = []string{}
	}
	if st.HasDayOrder() {
		d := st.DayOrder + 1
		out.DayOrder = &d
	}
	if subj, ok := st.CurrentSubject(); ok && st.Current < len(periods) {
		p := newPeriodJSON(st.Current, periods[st.Current])
		p.Subject = subj
		out.Current = &p
	}
	if st.Next != nil {
		out.Next = &countdownJSON{
			Kind:    string(st.Next.Kind),
			Period:  st.Next.Period + 1,
			Seconds: st.Next.Seconds,
			Display: timetable.FormatCountdown(st.Next.Seconds),
		}
	}
	return out
}

func newPeriodJSON(i int, p timetable.Period) periodJSON {
	return periodJSON{Number: i + 1, Start: p.Start.String(), End: p.End.String(), Label: p.Range()}
}

func (s *Service) now() time.Time { return s.deps.Clock.Now() }

func (s *Service) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

// handleStatus resolves now, or ?at=RFC3339 when given.
func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	at := s.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be RFC3339")
			return
		}
		at = t
	}
	svc := s.deps.Timetable
	writeJSON(w, http.StatusOK, newStatusJSON(svc.Status(at), svc.Resolver().Periods()))
}

func (s *Service) handleTimetable(w http.ResponseWriter, _ *http.Request) {
	r := s.deps.Timetable.Resolver()
	periods := r.Periods()
	out := struct {
		Timezone string       `json:"timezone"`
		Periods  []periodJSON `json:"periods"`
		Days     [][]string   `json:"days"`
	}{Timezone: r.Location().String(), Periods: make([]periodJSON, 0, len(periods))}
	for i, p := range periods {
		out.Periods = append(out.Periods, newPeriodJSON(i, p))
	}
	for _, d := range r.Days() {
		out.Days = append(out.Days, []string(d))
	}
	writeJSON(w, http.StatusOK, out)
}

type calendarDayJSON struct {
	Date     string `json:"date"`
	Weekday  string `json:"weekday"`
	DayOrder int    `json:"day_order"`
	Note     string `json:"note,omitempty"`
}

type overrideJSON struct {
	Date      string    `json:"date"`
	DayOrder  *int      `json:"day_order"`
	Holiday   bool      `json:"holiday,omitempty"`
	Note      string    `json:"note,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// handleCalendar lists the next ?days dated school days from ?from.
func (s *Service) handleCalendar(w http.ResponseWriter, r *http.Request) {
	svc := s.deps.Timetable
	from := s.now()
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := svc.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD")
			return
		}
		from = t
	}
	days, err := intParam(r, "days", defaultCalendarDays, maxCalendarDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := struct {
		Days      []calendarDayJSON `json:"days"`
		Overrides []overrideJSON    `json:"overrides"`
	}{Days: []calendarDayJSON{}, Overrides: []overrideJSON{}}
	for _, d := range svc.Resolver().Upcoming(from, days) {
		out.Days = append(out.Days, calendarDayJSON{
			Date:     d.Date.Format(timetable.DateLayout),
			Weekday:  timetable.Weekday(d.Date),
			DayOrder: d.DayOrder + 1,
			Note:     d.Note,
		})
	}
	for _, o := range svc.Overrides() {
		ov := overrideJSON{Date: o.Date, Holiday: o.Holiday, Note: o.Note, UpdatedBy: o.UpdatedBy, UpdatedAt: o.UpdatedAt}
		if !o.Holiday {
			d := o.DayOrder + 1
			ov.DayOrder = &d
		}
		out.Overrides = append(out.Overrides, ov)
	}
	writeJSON(w, http.StatusOK, out)
}

type overrideRequest struct {
	DayOrder int    `json:"day_order"` // 1-based
	Holiday  bool   `json:"holiday"`
	Note     string `json:"note"`
	By       string `json:"by"`
}

func (s *Service) handlePutOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if !req.Holiday && req.DayOrder < 1 {
		writeError(w, http.StatusBadRequest, "day_order (1-based) or holiday is required")
		return
	}
	date := chi.URLParam(r, "date")
	e, err := s.deps.Timetable.SetOverride(r.Context(), date, req.DayOrder-1, req.Holiday, req.Note, s.actor(r, req.By))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	out := overrideJSON{Date: date, Holiday: e.Holiday, Note: e.Note}
	if !e.Holiday {
		d := e.DayOrder + 1
		out.DayOrder = &d
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleDeleteOverride(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	removed, err := s.deps.Timetable.ClearOverride(r.Context(), date, s.actor(r, r.URL.Query().Get("by")))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "no override for "+date)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "removed": true})
}

func (s *Service) actor(r *http.Request, by string) timetable.Actor {
	by = strings.TrimSpace(by)
	if by == "" {
		by = "http:" + r.RemoteAddr
	}
	return timetable.Actor{Name: by, Surface: "http"}
}

func intParam(r *http.Request, name string, def, maxN int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return min(n, maxN), nil
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timetable.ErrInvalidDate), errors.Is(err, timetable.ErrInvalidDayOrder):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
