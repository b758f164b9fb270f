package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram   TelegramConfig    `json:"telegram"`
	Logging    LoggingConfig     `json:"logging"`
	Dashboard  DashboardConfig   `json:"dashboard"`
	Timetable  *TimetableConfig  `json:"timetable,omitempty"`
	Announce   AnnounceConfig    `json:"announce"`
	Scheduler  SchedulerConfig   `json:"scheduler"`
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`
	Notifier   *NotifierConfig   `json:"notifier,omitempty"`
	Storage    *StorageConfig    `json:"storage,omitempty"`
}

// TelegramConfig enables the chat surface. An empty token disables it.
type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
	// Workers handling incoming commands (default 4).
	Workers int `json:"workers,omitempty" validate:"gte=0,lte=64"`
}

type LoggingConfig struct {
	Level    string          `json:"level" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec" validate:"gte=0"`
}

// DashboardConfig controls the HTTP dashboard.
//
// Prefer a loopback Addr. A non-loopback bind needs a token or allow_insecure.
type DashboardConfig struct {
	Enabled        bool     `json:"enabled"`
	Addr           string   `json:"addr,omitempty"`  // default "127.0.0.1:8080"
	Token          string   `json:"token,omitempty"` // guards writes and pprof; never logged
	AllowInsecure  bool     `json:"allow_insecure,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RatePerSec     int      `json:"rate_per_sec,omitempty" validate:"gte=0"` // per client IP, default 20
	Pprof          bool     `json:"pprof,omitempty"`
	Title          string   `json:"title,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"` // keep 0 for the event stream
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// TimetableConfig overrides the compiled-in schedule. Any omitted part
// keeps its default.
type TimetableConfig struct {
	Timezone string         `json:"timezone,omitempty" validate:"omitempty,timezone"`
	Periods  []PeriodConfig `json:"periods,omitempty" validate:"omitempty,min=1,dive"`
	Days     [][]string     `json:"days,omitempty" validate:"omitempty,min=1,dive,min=1,dive,required"`
	// Calendar maps YYYY-MM-DD to a 1-based day order; null marks a holiday.
	Calendar map[string]*int `json:"calendar,omitempty" validate:"omitempty,dive,keys,isodate,endkeys,omitempty,min=1"`
	// DefaultCalendar keeps the compiled-in calendar underneath Calendar
	// (default true).
	DefaultCalendar *bool `json:"default_calendar,omitempty"`
}

type PeriodConfig struct {
	Start string `json:"start" validate:"required,hhmm"`
	End   string `json:"end" validate:"required,hhmm"`
}

// AnnounceConfig controls pushed chat messages.
type AnnounceConfig struct {
	Enabled  bool  `json:"enabled"`
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
	// PeriodStart posts when each period begins.
	PeriodStart bool `json:"period_start"`
	// Lead posts a reminder this long before each period ("0s" disables).
	Lead string `json:"lead,omitempty"`
	// Digest is a cron spec for the daily summary ("" disables).
	Digest string `json:"digest,omitempty"`
}

// SchedulerConfig controls cron triggers.
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty" validate:"omitempty,timezone"`
}

// TaskEngineConfig controls execution of scheduled jobs.
//
// Defaults: workers 2, queue_size 64, history_size 100, retry_max 2.
type TaskEngineConfig struct {
	Workers        int    `json:"workers,omitempty" validate:"gte=0,lte=64"`
	QueueSize      int    `json:"queue_size,omitempty" validate:"gte=0"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty" validate:"gte=0"`
	RetryMax       int    `json:"retry_max,omitempty" validate:"gte=0,lte=10"`
}

// NotifierConfig controls the async send pipeline. When the section is
// omitted the notifier runs with defaults.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers" validate:"gte=0,lte=32"`
	QueueSize     int    `json:"queue_size" validate:"gte=0"`
	RatePerSec    int    `json:"rate_per_sec" validate:"gte=0"`
	RetryMax      int    `json:"retry_max" validate:"gte=0,lte=10"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	DedupWindow   string `json:"dedup_window"`
	PersistDedup  bool   `json:"persist_dedup,omitempty"`
}

// StorageConfig, e.g. { "driver": "sqlite", "path": "./data/dayorder.db" }.
type StorageConfig struct {
	Driver      string `json:"driver" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
