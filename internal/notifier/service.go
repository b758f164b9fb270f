package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dayorder/internal/eventbus"
	rtsup "dayorder/internal/runtime/supervisor"
	"dayorder/internal/storage"
	"dayorder/internal/transport"
	"dayorder/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historyLimit = 200

type job struct {
	n   Notification
	key string
}

type dedupWrite struct {
	key   string
	until time.Time
}

// Service is queue + worker pool + rate limit + retry + dedup. It is safe
// for concurrent use.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store

	mu        sync.Mutex
	sender    Sender
	cfg       Config
	limiter   *rate.Limiter
	accepting bool
	queue     chan job
	persistCh chan dedupWrite
	sup       *rtsup.Supervisor
	sendWG    sync.WaitGroup

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

// New returns a stopped notifier. sender may be attached later with
// SetSender; store may be nil.
func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, store storage.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.Comp("notifier")),
		bus:    bus,
		store:  store,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()
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
	return s.sup
}

// Apply swaps rate, retry, and dedup settings. Worker count and queue size
// take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	cfg.RetryMax = max(cfg.RetryMax, 0)
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	cfg.DedupWindow = max(cfg.DedupWindow, 0)
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	s.cfg = cfg
	// burst equals the per-second rate
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil || !s.cfg.Enabled {
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))
	q := s.queue

	if s.cfg.PersistDedup && s.store != nil {
		s.persistCh = make(chan dedupWrite, 256)
		pch, st := s.persistCh, s.store
		s.sup.GoRestart("dedup.persist", func(c context.Context) error {
			s.persistLoop(c, pch, st)
			return nil
		}, rtsup.WithStopOnCleanExit(true))
	}
	for i := 0; i < s.cfg.Workers; i++ {
		s.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		}, rtsup.WithStopOnCleanExit(true), rtsup.WithPublishFirstError(true))
	}
	s.log.Info("notifier started", logx.Int("workers", s.cfg.Workers), logx.Int("rate_per_sec", s.cfg.RatePerSec))
}

// Stop refuses new notifications and drains the queue until ctx expires,
// after which workers are cancelled.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.queue == nil || !s.accepting {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	q, pch, sup := s.queue, s.persistCh, s.sup
	s.mu.Unlock()

	s.sendWG.Wait()
	close(q)
	if pch != nil {
		close(pch)
	}
	if err := sup.Wait(ctx); err != nil && errors.Is(err, ctx.Err()) {
		s.log.Warn("notifier drain timed out", logx.Int("dropped", len(q)))
		sup.Cancel()
		_ = sup.Wait(context.Background())
	}

	s.mu.Lock()
	s.queue, s.persistCh, s.sup = nil, nil, nil
	s.mu.Unlock()
	s.log.Info("notifier stopped")
}

// Notify queues n. A duplicate inside the dedup window returns nil without
// sending.
func (s *Service) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting {
		s.mu.Unlock()
		return ErrStopped
	}
	cfg, q, pch := s.cfg, s.queue, s.persistCh
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := n.Key
	if key == "" {
		key = contentKey(n)
	}
	if cfg.DedupWindow > 0 && !s.dedupAllow(ctx, key, cfg, pch) {
		s.publish("notifier.deduped", n, key, nil)
		return nil
	}

	select {
	case q <- job{n: n, key: key}:
		s.publish("notifier.queued", n, key, nil)
		return nil
	default:
		s.publish("notifier.dropped", n, key, ErrQueueFull)
		return ErrQueueFull
	}
}

// History returns recently delivered notifications, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(n Notification, key string) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Channel: n.Channel, Key: key, Text: n.Text})
	if len(s.history) > historyLimit {
		s.history = s.history[len(s.history)-historyLimit:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ string, n Notification, key string, err error) {
	if s.bus == nil {
		return
	}
	ev := NotificationEvent{Channel: n.Channel, ChatID: n.Target.ChatID, ThreadID: n.Target.ThreadID, Key: key, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

func (s *Service) persistLoop(ctx context.Context, ch <-chan dedupWrite, st storage.Store) {
	for {
		select {
		case <-ctx.Done():
			return
		case w, ok := <-ch:
			if !ok {
				return
			}
			cctx, cancel := context.WithTimeout(ctx, time.Second)
			if err := st.PutDedup(cctx, w.key, w.until); err != nil {
				s.log.Debug("dedup persist failed", logx.String("key", w.key), logx.Err(err))
			}
			cancel()
		}
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()
	if sender == nil || j.n.Text == "" || j.n.Target.IsZero() {
		s.publish("notifier.failed", j.n, j.key, errors.New("no sender or target"))
		return
	}

	var lastErr error
	for attempt := 1; attempt <= 1+cfg.RetryMax; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := sender.SendText(callCtx, j.n.Target, j.n.Text, j.n.Options)
		cancel()
		if err == nil {
			s.appendHistory(j.n, j.key)
			s.publish("notifier.sent", j.n, j.key, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.String("key", j.key), logx.Int("attempt", attempt), logx.Err(err))
		if attempt > cfg.RetryMax {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt, err))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	s.log.Warn("notification failed", logx.String("channel", j.n.Channel), logx.String("key", j.key), logx.Err(lastErr))
	s.publish("notifier.failed", j.n, j.key, lastErr)
}

func contentKey(n Notification) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d:%d|%s", n.Channel, n.Target.ChatID, n.Target.ThreadID, n.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

func (s *Service) dedupAllow(ctx context.Context, key string, cfg Config, pch chan<- dedupWrite) bool {
	now := time.Now()
	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if cfg.PersistDedup && s.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := s.store.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(cfg.DedupWindow)
	s.dmu.Lock()
	s.dedup[key] = until
	s.pruneLocked(now, cfg.DedupMaxEntries)
	s.dmu.Unlock()

	if pch != nil {
		select {
		case pch <- dedupWrite{key: key, until: until}:
		default:
		}
	}
	return true
}

// PruneDedup drops expired entries; it runs on a scheduler interval.
func (s *Service) PruneDedup(context.Context) error {
	s.mu.Lock()
	limit := s.cfg.DedupMaxEntries
	s.mu.Unlock()
	s.dmu.Lock()
	s.pruneLocked(time.Now(), limit)
	s.dmu.Unlock()
	return nil
}

// pruneLocked drops expired keys, then the earliest-expiring ones over limit.
func (s *Service) pruneLocked(now time.Time, limit int) {
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	for limit > 0 && len(s.dedup) > limit {
		var minKey string
		var minT time.Time
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
}

// retryDelay is base*2^(attempt-1) with 0.7..1.3 jitter, capped, unless the
// adapter supplied a retry-after.
func retryDelay(cfg Config, attempt int, err error) time.Duration {
	var rl *transport.RateLimitedError
	if errors.As(err, &rl) {
		return min(max(rl.After, 0), cfg.RetryMaxDelay)
	}
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
