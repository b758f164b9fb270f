package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dayorder/internal/eventbus"
	rtsup "dayorder/internal/runtime/supervisor"
	"dayorder/pkg/logx"
)

const warnThrottleEvery = 5 * time.Second

// Service runs tasks on a fixed worker pool with per-task retry, timeout,
// and overlap gating.
type Service struct {
	log logx.Logger
	bus eventbus.Bus

	mu  sync.Mutex
	cfg Config
	run *generation // nil when stopped

	stateMu sync.Mutex
	states  map[string]*runState

	hmu     sync.Mutex
	history []HistoryItem

	idSeq            atomic.Uint64
	inFlight         atomic.Int32
	droppedQueueFull atomic.Uint64
	skippedOverlap   atomic.Uint64
	lastFullWarnAt   atomic.Int64
}

// generation is one Start..Stop lifetime.
type generation struct {
	q      chan queuedTask
	stopCh chan struct{}
	sup    *rtsup.Supervisor
}

type queuedTask struct {
	task       Task
	enqueuedAt time.Time
	timeout    time.Duration
	opt        TaskOptions
	state      *runState
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		log:    log.With(logx.Comp("taskengine")),
		bus:    bus,
		states: map[string]*runState{},
	}
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Supervisor exposes worker stats for /health. Nil when stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run.sup
}

// Apply swaps config; the pool restarts when its shape or enablement changed.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.run != nil
	s.mu.Unlock()

	restart := prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize || prev.Enabled != cfg.Enabled
	if !restart {
		return
	}
	if running {
		s.Stop(ctx)
	}
	s.Start(ctx)
}

// Start is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.run != nil {
		return
	}
	g := &generation{
		q:      make(chan queuedTask, s.cfg.QueueSize),
		stopCh: make(chan struct{}),
		sup: rtsup.NewSupervisor(ctx,
			rtsup.WithLogger(s.log),
			rtsup.WithCancelOnError(false),
		),
	}
	s.run = g
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		g.sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, g, idx)
			select {
			case <-g.stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, rtsup.WithPublishFirstError(true))
	}
	s.log.Info("task engine started", logx.Int("workers", s.cfg.Workers), logx.Int("queue", s.cfg.QueueSize))
}

// Stop cancels workers and waits for them until ctx expires. Queued tasks
// are discarded.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	g := s.run
	s.run = nil
	s.mu.Unlock()
	if g == nil {
		return
	}
	close(g.stopCh)
	g.sup.Cancel()
	if err := g.sup.Wait(ctx); err != nil && errors.Is(err, ctx.Err()) {
		s.log.Warn("task engine stop timed out", logx.Err(err))
		return
	}
	for {
		select {
		case qt := <-g.q:
			qt.release()
		default:
			s.log.Info("task engine stopped")
			return
		}
	}
}

// Enqueue never blocks; a full queue drops the task with ErrQueueFull.
func (s *Service) Enqueue(t Task) error { return s.enqueue(context.Background(), t, false) }

// Submit blocks until the task is queued, ctx ends, or the engine stops.
func (s *Service) Submit(ctx context.Context, t Task) error { return s.enqueue(ctx, t, true) }

func (s *Service) enqueue(ctx context.Context, t Task, block bool) error {
	if t.Run == nil {
		return errors.New("task Run is nil")
	}
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return errors.New("task Name is required")
	}
	now := time.Now()
	if strings.TrimSpace(t.ID) == "" {
		t.ID = fmt.Sprintf("tsk-%x-%x", now.UnixNano(), s.idSeq.Add(1))
	}

	s.mu.Lock()
	cfg, g := s.cfg, s.run
	s.mu.Unlock()
	if !cfg.Enabled {
		return ErrDisabled
	}
	if g == nil {
		return ErrStopped
	}

	qt := queuedTask{task: t, enqueuedAt: now, timeout: t.Timeout, opt: t.Opt.withDefaults(cfg)}
	if qt.timeout <= 0 {
		qt.timeout = cfg.DefaultTimeout
	}
	if qt.opt.Overlap == OverlapSkipIfRunning {
		st := s.stateFor(t.Name)
		if !st.tryAcquire() {
			s.skippedOverlap.Add(1)
			s.publish("task.skipped", HistoryItem{ID: t.ID, Name: t.Name, Started: now, Error: "overlap_skip"})
			s.log.Debug("task skipped due to overlap", logx.String("task", t.Name))
			return ErrOverlapSkip
		}
		qt.state = st
	}

	if !block {
		select {
		case g.q <- qt:
			return nil
		default:
			qt.release()
			s.onQueueFull(now, t, g.q)
			return ErrQueueFull
		}
	}
	select {
	case g.q <- qt:
		return nil
	case <-ctx.Done():
		qt.release()
		return ctx.Err()
	case <-g.stopCh:
		qt.release()
		return ErrStopped
	}
}

func (qt queuedTask) release() {
	if qt.state != nil {
		qt.state.release()
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg, g := s.cfg, s.run
	s.mu.Unlock()

	snap := Snapshot{
		Enabled:          cfg.Enabled,
		Running:          g != nil,
		Workers:          cfg.Workers,
		InFlight:         int(s.inFlight.Load()),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		SkippedOverlap:   s.skippedOverlap.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		RetryMax:         cfg.RetryMax,
	}
	if g != nil {
		snap.QueueLen, snap.QueueCap = len(g.q), cap(g.q)
	}
	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}

func (s *Service) stateFor(name string) *runState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	st := s.states[name]
	if st == nil {
		st = &runState{}
		s.states[name] = st
	}
	return st
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, ev TaskEvent) {
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: typ, Data: ev})
	}
}

func (s *Service) onQueueFull(now time.Time, t Task, q chan queuedTask) {
	n := s.droppedQueueFull.Add(1)
	s.publish("task.dropped", HistoryItem{ID: t.ID, Name: t.Name, Started: now, Error: "queue_full"})

	prev := s.lastFullWarnAt.Load()
	if prev != 0 && now.UnixNano()-prev < int64(warnThrottleEvery) {
		return
	}
	if s.lastFullWarnAt.CompareAndSwap(prev, now.UnixNano()) {
		s.log.Warn("task dropped: queue full",
			logx.String("task", t.Name),
			logx.Int("queue_cap", cap(q)),
			logx.Uint64("dropped_queue_full", n),
		)
	}
}
