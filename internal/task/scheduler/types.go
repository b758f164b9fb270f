package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dayorder/internal/task/engine"
	"dayorder/pkg/logx"
)

// Config controls the trigger service. Execution settings belong to the
// task engine.
type Config struct {
	Enabled  bool
	Timezone string // IANA name; empty uses the timetable zone
}

type (
	TaskOptions = engine.TaskOptions
	HistoryItem = engine.HistoryItem
)

type Job func(ctx context.Context) error

type scheduleDef struct {
	name    string
	spec    string // cron expression or "@every <d>"
	every   time.Duration
	timeout time.Duration
	job     Job
	opt     TaskOptions
	entryID cron.EntryID
}

type onceDef struct {
	at      time.Time
	timeout time.Duration
	job     Job
	ver     uint64
	timer   *time.Timer
}

type Service struct {
	log    logx.Logger
	engine *engine.Service
	parser cron.Parser

	mu       sync.Mutex
	cfg      Config
	fallback *time.Location
	loc      *time.Location
	c        *cron.Cron
	defs     []scheduleDef

	tmu  sync.Mutex
	once map[string]*onceDef
	ver  uint64

	enqMu       sync.Mutex
	lastEnqWarn map[string]time.Time
}

type ScheduleInfo struct {
	Name    string        `json:"name"`
	Spec    string        `json:"spec"`
	Timeout time.Duration `json:"timeout"`
	Next    time.Time     `json:"next"`
	Prev    time.Time     `json:"prev,omitempty"`
}

type Snapshot struct {
	Enabled   bool
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
	Once      []ScheduleInfo
	Engine    engine.Snapshot
}
