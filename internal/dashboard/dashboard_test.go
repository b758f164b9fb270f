package dashboard

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"

	"dayorder/internal/clock"
	"dayorder/internal/eventbus"
	"dayorder/internal/timetable"
	"dayorder/pkg/logx"
)

const testToken = "s3cret"

func newTestDashboard(t *testing.T, cfg Config, now time.Time) (*Service, *timetable.Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	svc, err := timetable.NewService(timetable.DefaultTimetable(), timetable.DefaultCalendar(), time.UTC, nil, bus, logx.Nop())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return New(cfg, Deps{Timetable: svc, Bus: bus, Clock: clock.NewFixed(now)}, logx.Nop()), svc, bus
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDashboard(t, Config{}, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	h := d.Handler(context.Background())

	rec := do(t, h, http.MethodGet, "/api/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}
	st := decode[statusJSON](t, rec)
	if st.DayOrder == nil || *st.DayOrder != 1 || st.DayLabel != "Day 1" {
		t.Fatalf("day = %v %q", st.DayOrder, st.DayLabel)
	}
	if st.Current == nil || st.Current.Number != 1 || st.Current.Subject != "Information Security" {
		t.Fatalf("current = %+v", st.Current)
	}
	if st.Next == nil || st.Next.Seconds != 2700 || st.Next.Display != "45:00" || st.Next.Kind != "in" {
		t.Fatalf("next = %+v", st.Next)
	}
	if st.DisplayDate != "23/06/2025" || st.Clock != "9:00:00AM" {
		t.Fatalf("display = %q %q", st.DisplayDate, st.Clock)
	}

	st = decode[statusJSON](t, do(t, h, http.MethodGet, "/api/status?at=2025-06-23T17:00:00Z", "", nil))
	if st.Next != nil || st.Current != nil {
		t.Fatalf("after hours: next = %+v current = %+v", st.Next, st.Current)
	}

	st = decode[statusJSON](t, do(t, h, http.MethodGet, "/api/status?at=2025-06-29T09:00:00Z", "", nil))
	if st.DayOrder != nil || st.DayLabel != "No Timetable Today" || len(st.Subjects) != 0 {
		t.Fatalf("unmapped date = %+v", st)
	}

	rec = do(t, h, http.MethodGet, "/api/status?at=yesterday", "", nil)
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), `"error"`) {
		t.Fatalf("bad at: %d %s", rec.Code, rec.Body.String())
	}
}

func TestTimetableAndCalendar(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDashboard(t, Config{}, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	h := d.Handler(context.Background())

	tt := decode[struct {
		Periods []periodJSON `json:"periods"`
		Days    [][]string   `json:"days"`
	}](t, do(t, h, http.MethodGet, "/api/timetable", "", nil))
	if len(tt.Periods) != 6 || len(tt.Days) != 5 {
		t.Fatalf("timetable = %d periods, %d days", len(tt.Periods), len(tt.Days))
	}
	if tt.Periods[2].Start != "11:15" || tt.Periods[2].Label != "11:15 AM - 12:15 PM" {
		t.Fatalf("period 3 = %+v", tt.Periods[2])
	}

	cal := decode[struct {
		Days []calendarDayJSON `json:"days"`
	}](t, do(t, h, http.MethodGet, "/api/calendar?from=2025-06-27&days=3", "", nil))
	if len(cal.Days) != 3 {
		t.Fatalf("calendar days = %+v", cal.Days)
	}
	// 2025-06-29 is a Sunday and has no entry.
	if cal.Days[0].Date != "2025-06-27" || cal.Days[1].Date != "2025-06-28" || cal.Days[2].Date != "2025-06-30" || cal.Days[2].DayOrder != 2 {
		t.Fatalf("calendar days = %+v", cal.Days)
	}

	if rec := do(t, h, http.MethodGet, "/api/calendar?days=-1", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("days=-1: %d", rec.Code)
	}
}

func TestOverrideWritesNeedToken(t *testing.T) {
	t.Parallel()
	d, svc, _ := newTestDashboard(t, Config{Token: testToken}, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	h := d.Handler(context.Background())
	auth := map[string]string{"Authorization": "Bearer " + testToken}

	if rec := do(t, h, http.MethodPut, "/api/calendar/2025-06-29", `{"day_order":3}`, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	rec := do(t, h, http.MethodPut, "/api/calendar/2025-06-29", `{"day_order":3,"note":"makeup"}`, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("put: %d %s", rec.Code, rec.Body.String())
	}
	if d, ok := svc.Resolver().DayOrderOn(time.Date(2025, 6, 29, 0, 0, 0, 0, time.UTC)); !ok || d != 2 {
		t.Fatalf("DayOrderOn = %d, %v", d, ok)
	}

	if rec := do(t, h, http.MethodPut, "/api/calendar/2025-06-29", `{"day_order":9}`, auth); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad day order: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/calendar/29-06-2025", `{"holiday":true}`, auth); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPut, "/api/calendar/2025-06-29", `{}`, auth); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty body: %d", rec.Code)
	}

	if rec := do(t, h, http.MethodDelete, "/api/calendar/2025-06-29?token="+testToken, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, http.MethodDelete, "/api/calendar/2025-06-29", "", auth); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rec.Code)
	}
}

func TestWritesDisabledWithoutToken(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDashboard(t, Config{}, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	rec := do(t, d.Handler(context.Background()), http.MethodPut, "/api/calendar/2025-06-29", `{"holiday":true}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("put without configured token: %d", rec.Code)
	}

	d, _, _ = newTestDashboard(t, Config{AllowInsecure: true}, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	rec = do(t, d.Handler(context.Background()), http.MethodPut, "/api/calendar/2025-06-29", `{"holiday":true}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("put with allow_insecure: %d", rec.Code)
	}
}

func TestICSFeed(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDashboard(t, Config{Title: "ECE Timetable"}, time.Date(2025, 6, 23, 7, 0, 0, 0, time.UTC))
	rec := do(t, d.Handler(context.Background()), http.MethodGet, "/api/calendar.ics?days=2", "", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/calendar") {
		t.Fatalf("ics: %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	if n := strings.Count(body, "BEGIN:VEVENT"); n != 12 {
		t.Fatalf("events = %d, want 12", n)
	}
	for _, want := range []string{"BEGIN:VCALENDAR", "X-WR-CALNAME:ECE Timetable", "SUMMARY:P1 Information Security", "UID:2025-06-24-p6@dayorder", "DTSTART:20250623T084500Z"} {
		if !strings.Contains(body, want) {
			t.Fatalf("ics missing %q", want)
		}
	}
}

func TestIndexPage(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDashboard(t, Config{}, time.Date(2025, 6, 23, 10, 0, 0, 0, time.UTC))
	rec := do(t, d.Handler(context.Background()), http.MethodGet, "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("index: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"<title>Day Order</title>", "Day 1", `<tr data-period="2" class="active">`, "Tutor Ward Meeting", "/api/stream"} {
		if !strings.Contains(body, want) {
			t.Fatalf("index missing %q", want)
		}
	}
}

func TestIndexGridHighlight(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDashboard(t, Config{}, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	body := do(t, d.Handler(context.Background()), http.MethodGet, "/", "", nil).Body.String()
	i := strings.Index(body, `id="grid"`)
	if i < 0 {
		t.Fatalf("index has no grid")
	}
	grid := body[i:]
	for _, want := range []string{`<tr data-day="1" class="active">`, `<td data-period="1" class="active">Information Security</td>`} {
		if !strings.Contains(grid, want) {
			t.Fatalf("grid missing %q", want)
		}
	}
	if n := strings.Count(grid, `<td data-period=`) - strings.Count(grid, `<td data-period="1" class="active">`); n != 29 {
		t.Fatalf("unhighlighted grid cells = %d, want 29", n)
	}
	if strings.Contains(grid, `<tr data-day="2" class="active">`) {
		t.Fatalf("inactive day highlighted")
	}
	if !strings.Contains(body, `#grid tbody tr`) {
		t.Fatalf("stream script does not refresh the grid")
	}

	d, _, _ = newTestDashboard(t, Config{}, time.Date(2025, 6, 29, 9, 0, 0, 0, time.UTC))
	body = do(t, d.Handler(context.Background()), http.MethodGet, "/", "", nil).Body.String()
	if grid := body[strings.Index(body, `id="grid"`):]; strings.Contains(grid, `class="active"`) {
		t.Fatalf("grid highlighted on a day without a timetable")
	}
}

func TestPprofGuarded(t *testing.T) {
	t.Parallel()
	d, _, _ := newTestDashboard(t, Config{Pprof: true, Token: testToken}, time.Now())
	h := d.Handler(context.Background())
	if rec := do(t, h, http.MethodGet, "/debug/pprof/", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("pprof without token: %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/debug/pprof/?token="+testToken, "", nil); rec.Code != http.StatusOK {
		t.Fatalf("pprof with token: %d", rec.Code)
	}

	d, _, _ = newTestDashboard(t, Config{Token: testToken}, time.Now())
	if rec := do(t, d.Handler(context.Background()), http.MethodGet, "/debug/pprof/?token="+testToken, "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof disabled: %d", rec.Code)
	}
}

func TestCheckBind(t *testing.T) {
	t.Parallel()
	cases := []struct {
		addr string
		cfg  Config
		ok   bool
	}{
		{"127.0.0.1:8080", Config{}, true},
		{"localhost:8080", Config{}, true},
		{"[::1]:8080", Config{}, true},
		{"0.0.0.0:8080", Config{}, false},
		{":8080", Config{}, false},
		{"0.0.0.0:8080", Config{Token: "x"}, true},
		{"0.0.0.0:8080", Config{AllowInsecure: true}, true},
	}
	for _, tc := range cases {
		if got := checkBind(tc.addr, tc.cfg) == nil; got != tc.ok {
			t.Fatalf("checkBind(%q, %+v) ok = %v, want %v", tc.addr, tc.cfg, got, tc.ok)
		}
	}
}

func TestStream(t *testing.T) {
	t.Parallel()
	d, svc, bus := newTestDashboard(t, Config{}, time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	srv := httptest.NewServer(d.Handler(ctx))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stream")
	if err != nil {
		t.Fatalf("GET stream: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	br := bufio.NewReader(resp.Body)
	next := func() (string, statusJSON) {
		t.Helper()
		var name string
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				var st statusJSON
				_ = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &st)
				return name, st
			}
		}
	}

	if name, st := next(); name != "status" || st.Clock != "9:00:00AM" {
		t.Fatalf("first event = %q %+v", name, st)
	}
	bus.Publish(eventbus.Event{Type: timetable.EventTick, Data: svc.Status(time.Date(2025, 6, 23, 9, 44, 59, 0, time.UTC))})
	name, st := next()
	if name != "status" || st.Next == nil || st.Next.Display != "00:01" {
		t.Fatalf("tick event = %q %+v", name, st.Next)
	}
}
