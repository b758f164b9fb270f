package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// Config controls the task execution engine. The scheduler only triggers;
// execution settings live here.
type Config struct {
	Enabled   bool
	Workers   int
	QueueSize int

	// DefaultTimeout applies when Task.Timeout is 0.
	DefaultTimeout time.Duration

	HistorySize int
	RetryMax    int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 100
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	return c
}

type OverlapPolicy int

const (
	// OverlapSkipIfRunning drops a trigger while a previous run of the same
	// task is queued or running.
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

type TaskOptions struct {
	Overlap       OverlapPolicy
	RetryMax      int // 0 uses Config.RetryMax, <0 disables retries
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64 // 0.2 = 20%
}

func (o TaskOptions) withDefaults(cfg Config) TaskOptions {
	switch {
	case o.RetryMax == 0:
		o.RetryMax = cfg.RetryMax
	case o.RetryMax < 0:
		o.RetryMax = 0
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = 15 * time.Second
	}
	if o.RetryJitter <= 0 {
		o.RetryJitter = 0.2
	}
	return o
}

// runState gates OverlapSkipIfRunning per task name.
type runState struct{ pending atomic.Bool }

func (s *runState) tryAcquire() bool { return s.pending.CompareAndSwap(false, true) }
func (s *runState) release()         { s.pending.Store(false) }

// Task is one unit of work.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
	Opt     TaskOptions
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is the payload of task.* bus events.
type TaskEvent = HistoryItem

type Snapshot struct {
	Enabled  bool
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int

	DroppedQueueFull uint64
	SkippedOverlap   uint64

	DefaultTimeout time.Duration
	RetryMax       int

	History []HistoryItem
}
