package dashboard

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"strings"

	"dayorder/pkg/logx"
)

//go:embed templates/index.html
var templatesFS embed.FS

var indexTmpl = template.Must(template.New("index.html").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).ParseFS(templatesFS, "templates/index.html"))

type pageRow struct {
	Number  int
	Range   string
	Subject string
	Active  bool
}

type pageData struct {
	Title   string
	Status  statusJSON
	Today   []pageRow
	Periods []periodJSON
	Days    [][]string

	// DayOrder and Current are 0-based, -1 when none.
	DayOrder int
	Current  int
}

func (s *Service) title() string {
	if t := strings.TrimSpace(s.config().Title); t != "" {
		return t
	}
	return "Day Order"
}

func (s *Service) handleIndex(w http.ResponseWriter, _ *http.Request) {
	svc := s.deps.Timetable
	r := svc.Resolver()
	st := svc.Status(s.now())
	periods := r.Periods()

	data := pageData{
		Title:    s.title(),
		Status:   newStatusJSON(st, periods),
		DayOrder: st.DayOrder,
		Current:  st.Current,
	}
	for i, p := range periods {
		data.Periods = append(data.Periods, newPeriodJSON(i, p))
		if st.HasDayOrder() && i < len(st.Subjects) {
			data.Today = append(data.Today, pageRow{Number: i + 1, Range: p.Range(), Subject: st.Subjects[i], Active: i == st.Current})
		}
	}
	for _, d := range r.Days() {
		data.Days = append(data.Days, []string(d))
	}

	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, data); err != nil {
		s.log.Error("render index failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "render failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}
