package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"dayorder/pkg/logx"
)

// AddSchedule parses schedule (see ParseSchedule) and registers a cron or
// interval trigger. Registering an existing name replaces it.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	if ps.Kind == SpecInterval {
		return s.AddInterval(name, ps.Every, timeout, job)
	}
	return s.AddCron(name, ps.Cron, timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	return s.register(scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job Job) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.register(scheduleDef{name: name, spec: "@every " + every.String(), every: every, timeout: timeout, job: job})
}

func (s *Service) register(d scheduleDef) error {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return errors.New("name required")
	}
	if d.job == nil {
		return errors.New("job required")
	}
	s.removeOnce(d.name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	def := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(def); err != nil {
		return err
	}
	s.log.Debug("schedule registered",
		logx.String("name", d.name),
		logx.String("spec", d.spec),
		logx.Time("next", s.c.Entry(def.entryID).Next),
	)
	return nil
}

// AddOnce runs job once at the given instant. Past instants fire
// immediately. Registering an existing name replaces it.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() || job == nil {
		return errors.New("at and job required")
	}
	s.mu.Lock()
	s.removeScheduleLocked(name)
	running := s.c != nil
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if old := s.once[name]; old != nil && old.timer != nil {
		old.timer.Stop()
	}
	s.ver++
	d := &onceDef{at: at, timeout: timeout, job: job, ver: s.ver}
	s.once[name] = d
	if running {
		s.armLocked(name, d)
	}
	return nil
}

func (s *Service) armLocked(name string, d *onceDef) {
	ver := d.ver
	d.timer = time.AfterFunc(max(time.Until(d.at), 0), func() {
		s.tmu.Lock()
		cur := s.once[name]
		if cur == nil || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.once, name)
		s.tmu.Unlock()
		s.trigger(name, cur.timeout, TaskOptions{}, cur.job)
	})
}

// Remove deletes any schedule or one-shot registered under name.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	return s.removeOnce(name) || removed
}

// RemovePrefix deletes every schedule and one-shot whose name starts with
// prefix and reports how many were removed.
func (s *Service) RemovePrefix(prefix string) int {
	n := 0
	s.mu.Lock()
	for _, d := range append([]scheduleDef(nil), s.defs...) {
		if strings.HasPrefix(d.name, prefix) && s.removeScheduleLocked(d.name) {
			n++
		}
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, d := range s.once {
		if strings.HasPrefix(name, prefix) {
			if d.timer != nil {
				d.timer.Stop()
			}
			delete(s.once, name)
			n++
		}
	}
	s.tmu.Unlock()
	return n
}

func (s *Service) removeScheduleLocked(name string) bool {
	for i, d := range s.defs {
		if d.name != name {
			continue
		}
		if s.c != nil && d.entryID != 0 {
			s.c.Remove(d.entryID)
		}
		s.defs = append(s.defs[:i], s.defs[i+1:]...)
		return true
	}
	return false
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	d := s.once[name]
	if d == nil {
		return false
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	delete(s.once, name)
	return true
}

// Snapshot is a point-in-time view for /health and the dashboard.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.c != nil,
		Timezone: s.locationLocked().String(),
	}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, d := range s.once {
		snap.Once = append(snap.Once, ScheduleInfo{Name: name, Spec: "once", Timeout: d.timeout, Next: d.at})
	}
	s.tmu.Unlock()
	sortInfos(snap.Once)

	if s.engine != nil {
		snap.Engine = s.engine.Snapshot()
	}
	return snap
}
