package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"dayorder/internal/transport"
	"dayorder/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain applies m so that m[0] is outermost.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs every request; fast successes go to DEBUG.
func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)
			fields := []logx.Field{logx.String("kind", string(req.Update.Kind)), logx.Duration("dur", d)}
			switch {
			case err != nil:
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				req.Logger.Info("request ok", fields...)
			default:
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWReplyError tells the user a command failed. Errors of type UserError
// are shown verbatim; anything else gets a generic message.
func MWReplyError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			msg := "Something went wrong. Try again later."
			if ue, ok := asUserError(err); ok {
				msg = ue.Msg
			}
			if req.Update.Kind == transport.UpdateCallback && req.Update.Callback != nil {
				_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, msg)
				return err
			}
			_, _ = req.Adapter.SendText(ctx, req.Chat, msg, nil)
			return err
		}
	}
}
