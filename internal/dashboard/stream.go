package dashboard

import (
	"context"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"dayorder/internal/timetable"
	"dayorder/pkg/logx"
)

const streamKeepAlive = 15 * time.Second

// handleStream pushes one "status" event per clock tick and a "calendar"
// event when an override changes. It ends when the client goes away or
// the server context is cancelled.
func (s *Service) handleStream(srvCtx context.Context, w http.ResponseWriter, r *http.Request) {
	if s.deps.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream unavailable")
		return
	}
	rc := http.NewResponseController(w)

	events, unsub := s.deps.Bus.Subscribe(8, timetable.EventTick, timetable.EventCalendarChanged)
	defer unsub()

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-store")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Send the current state right away so the page does not wait a tick.
	svc := s.deps.Timetable
	if err := writeEvent(w, "status", newStatusJSON(svc.Status(s.now()), svc.Resolver().Periods())); err != nil {
		return
	}
	_ = rc.Flush()

	keep := time.NewTicker(streamKeepAlive)
	defer keep.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-srvCtx.Done():
			return
		case <-keep.C:
			if _, err := w.Write([]byte(": keep-alive\n\n")); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			var err error
			switch data := ev.Data.(type) {
			case timetable.Status:
				err = writeEvent(w, "status", newStatusJSON(data, svc.Resolver().Periods()))
			case timetable.CalendarChange:
				err = writeEvent(w, "calendar", map[string]any{"date": data.Date, "by": data.Actor.Name})
			default:
				continue
			}
			if err != nil {
				s.log.Debug("stream closed", logx.Err(err))
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(b)+len(name)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, b...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err
}
