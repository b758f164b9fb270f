package timetable

import (
	"sync"
	"time"

	"dayorder/internal/eventbus"
	"dayorder/pkg/logx"
)

// Publisher turns clock ticks into bus events. OnTick is meant to be
// subscribed to a clock.Ticker.
type Publisher struct {
	svc *Service
	bus eventbus.Bus
	log logx.Logger

	mu      sync.Mutex
	primed  bool
	date    string
	day     int
	current int
}

func NewPublisher(svc *Service, bus eventbus.Bus, log logx.Logger) *Publisher {
	return &Publisher{svc: svc, bus: bus, log: log.With(logx.Comp("timetable.publisher"))}
}

// OnTick resolves now and publishes EventTick, plus EventDayChanged and
// EventPeriodChanged when the date, day order, or current period moved
// since the previous tick. The first tick only primes state.
func (p *Publisher) OnTick(now time.Time) {
	st := p.svc.Status(now)

	p.mu.Lock()
	primed := p.primed
	prevDate, prevDay, prevCur := p.date, p.day, p.current
	p.primed, p.date, p.day, p.current = true, st.Date, st.DayOrder, st.Current
	p.mu.Unlock()

	p.bus.Publish(eventbus.Event{Type: EventTick, Time: now, Data: st})
	if !primed {
		return
	}
	if prevDate != st.Date || prevDay != st.DayOrder {
		p.log.Debug("day changed", logx.String("date", st.Date), logx.Int("day_order", st.DayOrder))
		p.bus.Publish(eventbus.Event{Type: EventDayChanged, Time: now, Data: st})
	}
	if prevCur != st.Current {
		p.log.Debug("period changed", logx.Int("from", prevCur), logx.Int("to", st.Current))
		p.bus.Publish(eventbus.Event{Type: EventPeriodChanged, Time: now, Data: PeriodChange{From: prevCur, To: st.Current, Status: st}})
	}
}
