package notifier

import (
	"context"
	"time"

	"dayorder/internal/transport"
)

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

// Sender is the subset of transport.Adapter the notifier uses.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// Notification is one outbound message.
type Notification struct {
	Channel string // announce.period, announce.lead, announce.digest, calendar
	Key     string // dedup key; empty derives one from target and text
	Target  transport.ChatTarget
	Text    string
	Options *transport.SendOptions
}

type HistoryItem struct {
	At      time.Time `json:"at"`
	Channel string    `json:"channel"`
	Key     string    `json:"key"`
	Text    string    `json:"text"`
}

// NotificationEvent is the payload of notifier.* bus events.
type NotificationEvent struct {
	Channel  string    `json:"channel"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
