package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrClosed   = errors.New("storage closed")
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the services.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)

	PutOverride(ctx context.Context, o CalendarOverride) error
	DeleteOverride(ctx context.Context, date string) (existed bool, err error)
	ListOverrides(ctx context.Context) ([]CalendarOverride, error)

	Close() error
}

// AuditEntry records an operator action.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Actor   string    `json:"actor"`
	ChatID  int64     `json:"chat_id,omitempty"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	Detail  string    `json:"detail,omitempty"`
	Error   string    `json:"error,omitempty"`
	Surface string    `json:"surface,omitempty"` // telegram, http
}

// CalendarOverride replaces the configured calendar entry of one date.
// DayOrder is 0-based and ignored when Holiday is set.
type CalendarOverride struct {
	Date      string    `json:"date"`
	DayOrder  int       `json:"day_order"`
	Holiday   bool      `json:"holiday,omitempty"`
	Note      string    `json:"note,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
