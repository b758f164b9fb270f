package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime/debug"
	"time"

	"dayorder/pkg/logx"
)

func (s *Service) worker(ctx context.Context, g *generation, idx int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(idx)<<32))
	for {
		select {
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		case qt := <-g.q:
			s.inFlight.Add(1)
			s.execOne(ctx, g.stopCh, qt, rng)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask, rng *rand.Rand) {
	defer qt.release()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)
	log := s.log.With(logx.String("task", qt.task.Name), logx.String("id", qt.task.ID))
	s.publish("task.started", HistoryItem{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay})

	var err error
	attempts := 0
	maxAttempts := 1 + qt.opt.RetryMax
attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		err = s.runOnce(ctx, qt, log)
		if err == nil {
			break
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			err = nr.err
			break
		}
		if attempt == maxAttempts {
			break
		}

		delay := backoffDelayWithHint(qt.opt, attempt, err, rng)
		log.Debug("task retry scheduled", logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(err))
		tmr := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			tmr.Stop()
			err = ctx.Err()
			break attemptLoop
		case <-stopCh:
			tmr.Stop()
			err = ErrStopped
			break attemptLoop
		case <-tmr.C:
		}
	}

	item := HistoryItem{
		ID:         qt.task.ID,
		Name:       qt.task.Name,
		Started:    start,
		QueueDelay: queueDelay,
		Duration:   time.Since(start),
		Attempts:   attempts,
	}
	if err != nil {
		item.Error = err.Error()
	}
	s.record(item)
	if err != nil {
		log.Warn("task failed", logx.Err(err), logx.Duration("dur", item.Duration), logx.Int("attempts", attempts))
		s.publish("task.failed", item)
	} else {
		log.Debug("task completed", logx.Duration("queue_delay", queueDelay), logx.Duration("dur", item.Duration), logx.Int("attempts", attempts))
		s.publish("task.finished", item)
	}
}

// runOnce runs one attempt, converting panics to errors.
func (s *Service) runOnce(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task panic", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return qt.task.Run(ctx)
}

func backoffDelayWithHint(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return withJitter(min(max(ra.RetryAfter(), 0), opt.RetryMaxDelay), opt, rng)
	}
	return backoffDelay(opt, retry, rng)
}

// backoffDelay doubles RetryBase per retry, capped at RetryMaxDelay.
func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry && d < opt.RetryMaxDelay; i++ {
		d *= 2
	}
	return withJitter(min(d, opt.RetryMaxDelay), opt, rng)
}

func withJitter(d time.Duration, opt TaskOptions, rng *rand.Rand) time.Duration {
	if d <= 0 || opt.RetryJitter <= 0 || rng == nil {
		return d
	}
	r := (rng.Float64()*2 - 1) * opt.RetryJitter
	d = time.Duration(float64(d) * (1 + r))
	return min(max(d, 0), opt.RetryMaxDelay)
}
