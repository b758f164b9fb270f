package scheduler

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"dayorder/internal/task/engine"
	"dayorder/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

// New returns a stopped scheduler. fallback is the zone used when
// Config.Timezone is empty.
func New(cfg Config, eng *engine.Service, fallback *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if fallback == nil {
		fallback = time.Local
	}
	return &Service{
		cfg:      cfg,
		log:      log.With(logx.Comp("scheduler")),
		engine:   eng,
		fallback: fallback,
		// SecondOptional accepts both 5-field and 6-field specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		once:        map[string]*onceDef{},
		lastEnqWarn: map[string]time.Time{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location is the zone cron specs are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locationLocked()
}

// Apply swaps config. A running cron restarts when its zone changed.
func (s *Service) Apply(cfg Config, fallback *time.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.locationLocked()
	s.cfg = cfg
	if fallback != nil {
		s.fallback = fallback
	}
	if s.c != nil && s.locationLocked().String() != prev.String() {
		s.log.Info("timezone changed, restarting cron", logx.String("tz", s.locationLocked().String()))
		s.stopCronLocked()
		s.startCronLocked()
	}
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return s.fallback
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid scheduler timezone; using fallback", logx.String("tz", tz), logx.Err(err))
		return s.fallback
	}
	return loc
}

// Start begins triggering registered schedules and arms one-shot timers.
// It is a no-op when disabled or already running.
func (s *Service) Start(context.Context) {
	s.mu.Lock()
	if !s.cfg.Enabled || s.c != nil {
		s.mu.Unlock()
		return
	}
	s.startCronLocked()
	n := len(s.defs)
	s.mu.Unlock()

	s.tmu.Lock()
	for name, d := range s.once {
		s.armLocked(name, d)
	}
	s.tmu.Unlock()
	s.log.Info("scheduler started", logx.String("tz", s.Location().String()), logx.Int("schedules", n))
}

func (s *Service) startCronLocked() {
	s.loc = s.locationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) stopCronLocked() {
	if s.c == nil {
		return
	}
	s.c.Stop()
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
}

// Stop halts triggering. Definitions survive for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()
	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for _, d := range s.once {
		if d.timer != nil {
			d.timer.Stop()
			d.timer = nil
		}
	}
	s.tmu.Unlock()
	s.log.Info("scheduler stopped")
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	name, timeout, job, opt := d.name, d.timeout, d.job, d.opt
	run := cron.FuncJob(func() { s.trigger(name, timeout, opt, job) })

	if d.every > 0 {
		sched, _ := makeIntervalScheduleWithSpread(d.every, time.Now(), name)
		d.entryID = s.c.Schedule(sched, run)
		return nil
	}
	id, err := s.c.AddJob(d.spec, run)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// trigger hands the job to the engine. Scheduled jobs never overlap.
func (s *Service) trigger(name string, timeout time.Duration, opt TaskOptions, job Job) {
	if s.engine == nil {
		return
	}
	opt.Overlap = engine.OverlapSkipIfRunning
	err := s.engine.Enqueue(engine.Task{Name: name, Timeout: timeout, Run: job, Opt: opt})
	s.reportEnqueueError(name, err)
}

func (s *Service) reportEnqueueError(name string, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped", logx.String("schedule", name), logx.Err(err))
		return
	}
	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	if !last.IsZero() && now.Sub(last) < enqueueWarnThrottle {
		s.enqMu.Unlock()
		return
	}
	s.lastEnqWarn[name] = now
	s.enqMu.Unlock()
	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
