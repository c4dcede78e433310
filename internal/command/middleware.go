package command

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"nerdalert/internal/storage"
	logx "nerdalert/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
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
		return func(ctx context.Context, req *Request) (reply string, err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("source", string(req.Source)),
				logx.String("actor", req.Actor),
				logx.String("cmd", req.Name),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			case req.Source == SourceSchedule || d >= 750*time.Millisecond:
				req.Logger.Info("command ok", fields...)
			default:
				req.Logger.Debug("command ok", fields...)
			}
			return reply, err
		}
	}
}

// MWAccess rejects privileged commands from unprivileged callers.
func MWAccess(privileged bool) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if privileged && !req.Privileged {
				return "", ErrUnauthorized
			}
			return next(ctx, req)
		}
	}
}

// MWAudit writes one audit entry per handled request. Store failures are logged, not returned.
func MWAudit(store storage.Store) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			reply, err := next(ctx, req)
			if store == nil {
				return reply, err
			}
			e := storage.AuditEntry{
				At:      start,
				ID:      req.ID,
				Source:  string(req.Source),
				Actor:   req.Actor,
				Action:  req.Name,
				Target:  req.Target,
				Seconds: req.Seconds,
				Outcome: req.Outcome,
				TookMS:  time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			// The request ctx may already be spent; give the write its own short budget.
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if aerr := store.AppendAudit(actx, e); aerr != nil && !errors.Is(aerr, storage.ErrDisabled) {
				req.Logger.Warn("audit append failed", logx.Err(aerr))
			}
			return reply, err
		}
	}
}
