// Package router turns Telegram messages into operator commands and replies
// with the result. Only configured owners get privileged commands.
package router

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"nerdalert/internal/command"
	rtsup "nerdalert/internal/runtime/supervisor"
	kit "nerdalert/internal/transport"
	logx "nerdalert/pkg/logx"
)

// Dispatcher runs one command line; *command.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, src command.Source, actor string, privileged bool, line string) (string, error)
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	d       Dispatcher
	workers int

	mu     sync.RWMutex
	owners []int64

	jobs chan func()
}

func New(log logx.Logger, adapter kit.Adapter, d Dispatcher, owners []int64) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log,
		adapter: adapter,
		d:       d,
		workers: 2,
		owners:  append([]int64(nil), owners...),
		jobs:    make(chan func(), 64),
	}
}

// SetOwners updates the owner list. Safe to call during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, o := range r.owners {
		if o == id {
			return true
		}
	}
	return false
}

// Run consumes updates until ctx is cancelled or updates is closed. Commands
// execute on a small worker pool so a slow reply never blocks polling.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)
	for i := 0; i < r.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					func() {
						defer func() {
							if rec := recover(); rec != nil {
								r.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
							}
						}()
						job()
					}()
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("telegram router started", logx.Int("workers", r.workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("telegram router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == kit.UpdateMessage && up.Message != nil {
				r.route(ctx, up.Message)
			}
		}
	}
}

func (r *Router) route(ctx context.Context, msg *kit.Message) {
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	owner := r.isOwner(msg.FromID)
	actor := strconv.FormatInt(msg.FromID, 10)
	if msg.FromUsername != "" {
		actor += "@" + msg.FromUsername
	}
	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	job := func() {
		reply, err := r.d.Dispatch(ctx, command.SourceTelegram, actor, owner, text)
		r.reply(ctx, to, msg.ID, replyText(reply, err))
	}
	select {
	case r.jobs <- job:
	default:
		r.reply(ctx, to, msg.ID, "busy, try again")
	}
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, replyTo int, text string) {
	if text == "" {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := r.adapter.SendText(cctx, to, text, &kit.SendOptions{DisablePreview: true, ReplyTo: replyTo}); err != nil {
		r.log.Warn("telegram reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
	}
}

func replyText(reply string, err error) string {
	switch {
	case err == nil:
		return reply
	case errors.Is(err, command.ErrUnknownCommand):
		return "unknown command. try /help"
	case errors.Is(err, command.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, command.ErrEmpty):
		return ""
	default:
		return "error: " + err.Error()
	}
}

// UpdateMenu publishes cmds as the bot's command menu if the adapter supports it.
func (r *Router) UpdateMenu(ctx context.Context, cmds []command.Command) error {
	up, ok := r.adapter.(kit.CommandMenuUpdater)
	if !ok {
		return nil
	}
	return up.UpdateMenuCommands(ctx, buildMenu(cmds))
}
