// Package clock provides the single once-per-second tick that drives every
// derived view of the timetable.
package clock

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dayorder/pkg/logx"
)

// Clock reports the current instant. Tests substitute Fixed.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System is the wall clock.
var System Clock = systemClock{}

// Fixed is a settable clock for tests.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixed(t time.Time) *Fixed { return &Fixed{t: t} }

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	f.t = t
	f.mu.Unlock()
}

func (f *Fixed) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
	return f.t
}

// Ticker calls every subscriber once per second, on the second boundary.
type Ticker struct {
	clock Clock
	log   logx.Logger

	mu   sync.RWMutex
	subs map[uint64]subscriber
	seq  atomic.Uint64

	ticks  atomic.Uint64
	panics atomic.Uint64
}

type subscriber struct {
	name string
	fn   func(now time.Time)
}

func NewTicker(c Clock, log logx.Logger) *Ticker {
	if c == nil {
		c = System
	}
	return &Ticker{clock: c, log: log, subs: map[uint64]subscriber{}}
}

// Subscribe registers fn under name and returns a func that removes it.
// Subscribers run sequentially in registration order on the tick goroutine
// and must not block.
func (t *Ticker) Subscribe(name string, fn func(now time.Time)) (unsubscribe func()) {
	id := t.seq.Add(1)
	t.mu.Lock()
	t.subs[id] = subscriber{name: name, fn: fn}
	t.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
		})
	}
}

// Ticks is the number of ticks delivered so far.
func (t *Ticker) Ticks() uint64 { return t.ticks.Load() }

// Fire delivers one tick at the clock's current instant.
func (t *Ticker) Fire() {
	now := t.clock.Now()
	t.mu.RLock()
	ids := make([]uint64, 0, len(t.subs))
	for id := range t.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	subs := make([]subscriber, 0, len(ids))
	for _, id := range ids {
		subs = append(subs, t.subs[id])
	}
	t.mu.RUnlock()

	for _, s := range subs {
		t.call(s, now)
	}
	t.ticks.Add(1)
}

func (t *Ticker) call(s subscriber, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			t.panics.Add(1)
			t.log.Error("tick subscriber panicked",
				logx.String("subscriber", s.name),
				logx.String("panic", fmt.Sprint(r)),
				logx.Stack(string(debug.Stack())),
			)
		}
	}()
	s.fn(now)
}

// Run fires immediately, then on every following wall-clock second until
// ctx is cancelled. It always returns ctx.Err().
func (t *Ticker) Run(ctx context.Context) error {
	t.Fire()
	timer := time.NewTimer(untilNextSecond(time.Now()))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			t.Fire()
			timer.Reset(untilNextSecond(time.Now()))
		}
	}
}

// untilNextSecond is never zero so a late wakeup cannot double-fire.
func untilNextSecond(now time.Time) time.Duration {
	d := time.Second - time.Duration(now.Nanosecond())
	if d < time.Millisecond {
		d += time.Second
	}
	return d
}
