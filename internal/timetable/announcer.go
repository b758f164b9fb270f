package timetable

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"dayorder/internal/clock"
	"dayorder/internal/eventbus"
	"dayorder/internal/notifier"
	rtsup "dayorder/internal/runtime/supervisor"
	"dayorder/internal/task/scheduler"
	"dayorder/internal/transport"
	"dayorder/pkg/logx"
)

const (
	leadPrefix   = "announce.lead:"
	digestJob    = "announce.digest"
	announceJobT = 30 * time.Second
)

// AnnounceConfig controls pushed messages. A zero Target disables them.
type AnnounceConfig struct {
	Enabled     bool
	Target      transport.ChatTarget
	PeriodStart bool
	Lead        time.Duration
	Digest      string // cron spec, "" disables
}

func (c AnnounceConfig) active() bool { return c.Enabled && !c.Target.IsZero() }

// Notifier is the part of notifier.Service the announcer needs.
type Notifier interface {
	Notify(ctx context.Context, n notifier.Notification) error
}

// Announcer posts period starts, lead-time reminders, calendar changes
// and a daily digest to one chat.
type Announcer struct {
	log   logx.Logger
	svc   *Service
	bus   eventbus.Bus
	notif Notifier
	sched *scheduler.Service
	clk   clock.Clock

	mu  sync.Mutex
	cfg AnnounceConfig
	sup *rtsup.Supervisor
}

// NewAnnouncer wires the announcer; sched may be nil, which disables lead
// reminders and the digest.
func NewAnnouncer(cfg AnnounceConfig, svc *Service, bus eventbus.Bus, notif Notifier, sched *scheduler.Service, clk clock.Clock, log logx.Logger) *Announcer {
	if clk == nil {
		clk = clock.System
	}
	return &Announcer{
		log:   log.With(logx.Comp("announcer")),
		svc:   svc,
		bus:   bus,
		notif: notif,
		sched: sched,
		clk:   clk,
		cfg:   cfg,
	}
}

func (a *Announcer) config() AnnounceConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *Announcer) Supervisor() *rtsup.Supervisor {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup
}

// Start subscribes to timetable events and installs the scheduled jobs.
func (a *Announcer) Start(ctx context.Context) {
	a.mu.Lock()
	if a.sup != nil {
		a.mu.Unlock()
		return
	}
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log))
	a.sup = sup
	a.mu.Unlock()

	events, unsub := a.bus.Subscribe(64, EventPeriodChanged, EventDayChanged, EventCalendarChanged)
	sup.Go0("announcer.events", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				a.handle(ctx, ev)
			}
		}
	})
	a.installDigest()
	a.PlanLeads(a.clk.Now())
}

func (a *Announcer) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.mu.Unlock()
	if a.sched != nil {
		a.sched.Remove(digestJob)
		a.sched.RemovePrefix(leadPrefix)
	}
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Apply swaps the config and reinstalls the scheduled jobs.
func (a *Announcer) Apply(cfg AnnounceConfig) {
	a.mu.Lock()
	a.cfg = cfg
	running := a.sup != nil
	a.mu.Unlock()
	if running {
		a.installDigest()
		a.PlanLeads(a.clk.Now())
	}
}

func (a *Announcer) handle(ctx context.Context, ev eventbus.Event) {
	switch ev.Type {
	case EventPeriodChanged:
		if ch, ok := ev.Data.(PeriodChange); ok {
			a.onPeriodChanged(ctx, ch)
		}
	case EventDayChanged:
		a.PlanLeads(ev.Time)
	case EventCalendarChanged:
		ch, ok := ev.Data.(CalendarChange)
		if !ok {
			return
		}
		a.onCalendarChanged(ctx, ch)
		if ch.Date == a.clk.Now().In(a.svc.Resolver().Location()).Format(DateLayout) {
			a.PlanLeads(a.clk.Now())
		}
	}
}

func (a *Announcer) onPeriodChanged(ctx context.Context, ch PeriodChange) {
	cfg := a.config()
	if !cfg.active() || !cfg.PeriodStart || ch.To == NoPeriod {
		return
	}
	st := ch.Status
	subj, _ := st.CurrentSubject()
	text := fmt.Sprintf("🔔 %s started: %s", PeriodLabel(ch.To), subj)
	a.notify(ctx, cfg, "announce.period", fmt.Sprintf("period:%s:%d", st.Date, ch.To+1), text)
}

func (a *Announcer) onCalendarChanged(ctx context.Context, ch CalendarChange) {
	cfg := a.config()
	if !cfg.active() {
		return
	}
	what := "back to the default calendar"
	if ch.Entry != nil {
		what = "now " + describeEntry(*ch.Entry)
	}
	text := fmt.Sprintf("📝 %s is %s", ch.Date, what)
	if ch.Actor.Name != "" {
		text += " (by " + ch.Actor.Name + ")"
	}
	a.notify(ctx, cfg, "calendar", "", text)
}

// PlanLeads replaces the lead reminders with the remaining periods of
// now's date.
func (a *Announcer) PlanLeads(now time.Time) int {
	if a.sched == nil {
		return 0
	}
	a.sched.RemovePrefix(leadPrefix)
	cfg := a.config()
	if !cfg.active() || cfg.Lead <= 0 {
		return 0
	}
	st := a.svc.Status(now)
	if !st.HasDayOrder() {
		return 0
	}
	r := a.svc.Resolver()
	n := 0
	for i := range r.Periods() {
		start, _, err := r.PeriodTimes(now, i)
		if err != nil {
			continue
		}
		at := start.Add(-cfg.Lead)
		if !at.After(now) {
			continue
		}
		subj := "-"
		if i < len(st.Subjects) {
			subj = st.Subjects[i]
		}
		period, date := i, st.Date
		name := fmt.Sprintf("%s%s:%d", leadPrefix, date, period+1)
		err = a.sched.AddOnce(name, at, announceJobT, func(ctx context.Context) error {
			cfg := a.config()
			if !cfg.active() {
				return nil
			}
			text := fmt.Sprintf("⏰ %s starts in %s: %s", PeriodLabel(period), humanLead(cfg.Lead), subj)
			return a.notifyErr(ctx, cfg, "announce.lead", fmt.Sprintf("lead:%s:%d", date, period+1), text)
		})
		if err != nil {
			a.log.Warn("lead reminder not scheduled", logx.String("name", name), logx.Err(err))
			continue
		}
		n++
	}
	a.log.Debug("lead reminders planned", logx.String("date", st.Date), logx.Int("count", n))
	return n
}

func (a *Announcer) installDigest() {
	if a.sched == nil {
		return
	}
	cfg := a.config()
	if !cfg.active() || strings.TrimSpace(cfg.Digest) == "" {
		a.sched.Remove(digestJob)
		return
	}
	err := a.sched.AddCron(digestJob, cfg.Digest, announceJobT, func(ctx context.Context) error {
		cfg := a.config()
		if !cfg.active() {
			return nil
		}
		st := a.svc.Status(a.clk.Now())
		return a.notifyErr(ctx, cfg, "announce.digest", "digest:"+st.Date, a.Digest(st))
	})
	if err != nil {
		a.log.Warn("digest not scheduled", logx.String("spec", cfg.Digest), logx.Err(err))
	}
}

// Digest renders the plain-text summary of one day.
func (a *Announcer) Digest(st Status) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📚 %s %s\n", Weekday(st.At), FormatDate(st.At))
	if !st.HasDayOrder() {
		b.WriteString("No Timetable Today")
		return b.String()
	}
	b.WriteString(DayLabel(st.DayOrder))
	for i, p := range a.svc.Resolver().Periods() {
		subj := "-"
		if i < len(st.Subjects) {
			subj = st.Subjects[i]
		}
		fmt.Fprintf(&b, "\n%d. %s  %s", i+1, p.Range(), subj)
	}
	return b.String()
}

func (a *Announcer) notify(ctx context.Context, cfg AnnounceConfig, channel, key, text string) {
	if err := a.notifyErr(ctx, cfg, channel, key, text); err != nil {
		a.log.Warn("announcement not queued", logx.String("channel", channel), logx.Err(err))
	}
}

func (a *Announcer) notifyErr(ctx context.Context, cfg AnnounceConfig, channel, key, text string) error {
	if a.notif == nil {
		return nil
	}
	return a.notif.Notify(ctx, notifier.Notification{
		Channel: channel,
		Key:     key,
		Target:  cfg.Target,
		Text:    text,
	})
}

func humanLead(d time.Duration) string {
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 min"
		}
		return fmt.Sprintf("%d min", m)
	}
	return d.String()
}
