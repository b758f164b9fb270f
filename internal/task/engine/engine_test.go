package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dayorder/internal/eventbus"
	"dayorder/pkg/logx"
)

func startEngine(t *testing.T, cfg Config, bus eventbus.Bus) *Service {
	t.Helper()
	cfg.Enabled = true
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not finish")
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "task.finished")
	defer unsub()
	s := startEngine(t, Config{Workers: 1}, bus)

	done := make(chan struct{})
	if err := s.Enqueue(Task{Name: "digest", Run: func(context.Context) error { close(done); return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDone(t, done)

	select {
	case ev := <-events:
		if got := ev.Data.(TaskEvent); got.Name != "digest" || got.Attempts != 1 || got.Error != "" {
			t.Fatalf("event = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no task.finished event")
	}
	if h := s.Snapshot().History; len(h) != 1 || h[0].Name != "digest" {
		t.Fatalf("history = %+v", h)
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "task.finished")
	defer unsub()
	s := startEngine(t, Config{Workers: 1, RetryMax: 3}, bus)

	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case ev := <-events:
		if got := ev.Data.(TaskEvent).Attempts; got != 3 {
			t.Fatalf("Attempts = %d, want 3", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("task never finished")
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "task.failed")
	defer unsub()
	s := startEngine(t, Config{Workers: 1, RetryMax: 5}, bus)

	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "bad", Run: func(context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("bad input"))
	}})
	select {
	case ev := <-events:
		if got := ev.Data.(TaskEvent); got.Attempts != 1 || got.Error != "bad input" {
			t.Fatalf("event = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no task.failed event")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8, "task.failed")
	defer unsub()
	s := startEngine(t, Config{Workers: 1}, bus)

	_ = s.Enqueue(Task{Name: "boom", Opt: TaskOptions{RetryMax: -1}, Run: func(context.Context) error { panic("kaboom") }})
	select {
	case ev := <-events:
		if got := ev.Data.(TaskEvent).Error; got != "panic: kaboom" {
			t.Fatalf("Error = %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no task.failed event")
	}

	// The worker survives.
	done := make(chan struct{})
	_ = s.Enqueue(Task{Name: "after", Run: func(context.Context) error { close(done); return nil }})
	waitDone(t, done)
}

func TestOverlapSkip(t *testing.T) {
	t.Parallel()
	s := startEngine(t, Config{Workers: 1}, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	run := func(context.Context) error {
		close(started)
		<-release
		return nil
	}
	if err := s.Enqueue(Task{Name: "announce", Run: run}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitDone(t, started)
	if err := s.Enqueue(Task{Name: "announce", Run: run}); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("second Enqueue err = %v, want ErrOverlapSkip", err)
	}
	if err := s.Enqueue(Task{Name: "other", Opt: TaskOptions{Overlap: OverlapAllow}, Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("other Enqueue: %v", err)
	}
	close(release)
	if got := s.Snapshot().SkippedOverlap; got != 1 {
		t.Fatalf("SkippedOverlap = %d, want 1", got)
	}
}

func TestDisabledAndStopped(t *testing.T) {
	t.Parallel()
	noop := Task{Name: "x", Run: func(context.Context) error { return nil }}

	off := New(Config{}, logx.Nop(), nil)
	off.Start(context.Background())
	if err := off.Enqueue(noop); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled err = %v, want ErrDisabled", err)
	}

	on := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := on.Enqueue(noop); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started err = %v, want ErrStopped", err)
	}
	if err := on.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatalf("nil Run accepted")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second, RetryJitter: 0}
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := backoffDelay(opt, tc.retry, nil); got != tc.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
	hinted := backoffDelayWithHint(opt, 1, RetryAfter(errors.New("429"), 5*time.Second), nil)
	if hinted != time.Second {
		t.Fatalf("hinted delay = %v, want capped 1s", hinted)
	}
}
