package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dayorder/internal/clock"
	"dayorder/internal/config"
	"dayorder/internal/notifier"
	"dayorder/internal/storage"
	"dayorder/internal/task/engine"
	"dayorder/internal/task/scheduler"
	"dayorder/internal/timetable"
	"dayorder/internal/transport"
	"dayorder/pkg/logx"
	"dayorder/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Command is one slash command. Route may contain spaces for
// subcommands ("calendar set").
type Command struct {
	Route       string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackRoute handles inline button presses whose data is
// "group:action:payload".
type CallbackRoute struct {
	Group  string
	Action string
	Access Access
	Handle HandlerFunc
}

func (c CallbackRoute) key() string { return c.Group + ":" + c.Action }

// Services are the long-lived components handlers may use. Any field
// may be nil when the subsystem is disabled.
type Services struct {
	Timetable   *timetable.Service
	Scheduler   *scheduler.Service
	Engine      *engine.Service
	Notifier    *notifier.Service
	Store       storage.Store
	Supervisors *SupervisorRegistry
	Clock       clock.Clock
	Config      func() *config.Config
	Started     time.Time
}

// Now reads the injected clock, falling back to wall time.
func (s *Services) Now() time.Time {
	if s == nil || s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

type Request struct {
	ID       string
	Update   transport.Update
	Chat     transport.ChatTarget
	FromID   int64
	FromName string
	Owner    bool

	// Command requests.
	Route []string
	Args  []string
	Flags map[string]string
	Bools map[string]bool

	// Callback requests.
	Payload string
	Source  transport.MessageRef

	Adapter  transport.Adapter
	Services *Services
	Logger   logx.Logger
}

// Reply sends m to the chat the request came from.
func (r *Request) Reply(ctx context.Context, m tgui.Message) error {
	_, err := m.Send(ctx, r.Adapter, r.Chat)
	return err
}

// Edit replaces the message a callback button was pressed on, falling
// back to a new message for command requests.
func (r *Request) Edit(ctx context.Context, m tgui.Message) error {
	if r.Source.MessageID == 0 {
		return r.Reply(ctx, m)
	}
	return m.Edit(ctx, r.Adapter, r.Source)
}

func (r *Request) Actor() timetable.Actor {
	name := r.FromName
	if name == "" {
		name = fmt.Sprintf("%d", r.FromID)
	}
	return timetable.Actor{Name: name, ChatID: r.Chat.ChatID, Surface: "telegram"}
}

// UserError carries a message that is safe to show in chat.
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *UserError) Unwrap() error { return e.Err }

// Userf builds a UserError from a format string.
func Userf(format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...)}
}

func asUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
