package clock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"dayorder/pkg/logx"
)

func TestFireCallsSubscribersInOrder(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 6, 23, 9, 0, 0, 0, time.UTC)
	fc := NewFixed(start)
	tk := NewTicker(fc, logx.Nop())

	var order []string
	var seen time.Time
	tk.Subscribe("a", func(now time.Time) { order = append(order, "a"); seen = now })
	unsub := tk.Subscribe("b", func(time.Time) { order = append(order, "b") })
	tk.Subscribe("boom", func(time.Time) { panic("subscriber bug") })
	tk.Subscribe("c", func(time.Time) { order = append(order, "c") })

	tk.Fire()
	if got := len(order); got != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("order = %v, want [a b c]", order)
	}
	if !seen.Equal(start) {
		t.Fatalf("subscriber saw %v, want %v", seen, start)
	}

	unsub()
	unsub()
	order = nil
	fc.Advance(time.Second)
	tk.Fire()
	if len(order) != 2 {
		t.Fatalf("after unsubscribe order = %v", order)
	}
	if tk.Ticks() != 2 {
		t.Fatalf("Ticks = %d, want 2", tk.Ticks())
	}
}

func TestRunTicksUntilCancelled(t *testing.T) {
	t.Parallel()
	tk := NewTicker(nil, logx.Nop())
	var n atomic.Int32
	tk.Subscribe("count", func(time.Time) { n.Add(1) })

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	err := tk.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run err = %v", err)
	}
	if got := n.Load(); got < 2 || got > 3 {
		t.Fatalf("ticks in 1.5s = %d, want 2 or 3", got)
	}
}

func TestUntilNextSecond(t *testing.T) {
	t.Parallel()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		ns   int
		want time.Duration
	}{
		{0, time.Second},
		{250_000_000, 750 * time.Millisecond},
		{999_999_900, time.Second + 100},
	}
	for _, tc := range cases {
		if got := untilNextSecond(base.Add(time.Duration(tc.ns))); got != tc.want {
			t.Fatalf("untilNextSecond(+%dns) = %v, want %v", tc.ns, got, tc.want)
		}
	}
}
