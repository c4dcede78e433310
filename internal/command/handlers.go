package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"nerdalert/internal/alert"
	"nerdalert/internal/storage"
	logx "nerdalert/pkg/logx"
)

// Loop runs fn on the goroutine that owns countdown state and waits for it.
type Loop interface {
	Call(ctx context.Context, fn func()) error
}

// Deps are what the built-in commands act on.
type Deps struct {
	Loop        Loop
	Coordinator *alert.Coordinator
	// Reload re-reads the config file and reports the sections that changed.
	Reload func(ctx context.Context) ([]string, error)
	Store  storage.Store
}

// RegisterBuiltins installs event, reload, status, history and help.
func RegisterBuiltins(d *Dispatcher, deps Deps) error {
	cmds := []Command{
		{
			Name:        "event",
			Usage:       "event <key> [amount second|minute|hour]",
			Description: "broadcast an event and count down to it; event cancel stops the countdown",
			Privileged:  true,
			Audit:       true,
			Handle:      eventHandler(deps),
		},
		{
			Name:        "reload",
			Description: "re-read the configuration file",
			Privileged:  true,
			Audit:       true,
			Handle:      reloadHandler(deps),
		},
		{
			Name:        "status",
			Description: "show the active countdown",
			Handle:      statusHandler(deps),
		},
		{
			Name:        "history",
			Usage:       "history [n]",
			Description: "show recent operator actions",
			Privileged:  true,
			Handle:      historyHandler(deps),
		},
		{
			Name:        "help",
			Aliases:     []string{"start"},
			Description: "list commands",
			Handle: func(ctx context.Context, req *Request) (string, error) {
				return d.Help(req.Privileged), nil
			},
		},
	}
	for _, c := range cmds {
		if err := d.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func eventHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		ev, perr := ParseEvent(req.Args)
		if errors.Is(perr, ErrUsage) {
			return "", fmt.Errorf("%w: event <key> [amount unit]", ErrUsage)
		}
		if perr != nil {
			req.Logger.Warn("odd event duration; using 0 seconds", logx.Strings("args", req.Args), logx.Err(perr))
		}
		ev.Source = string(req.Source)
		req.Target = ev.Key
		req.Seconds = ev.Seconds

		var res alert.Result
		if err := deps.Loop.Call(ctx, func() { res = deps.Coordinator.Announce(ctx, ev) }); err != nil {
			return "", err
		}
		req.Outcome = string(res.Outcome)
		return describe(ev, res), nil
	}
}

func describe(ev alert.Event, res alert.Result) string {
	var b strings.Builder
	switch res.Outcome {
	case alert.OutcomeStarted:
		fmt.Fprintf(&b, "countdown started: %s", res.Status)
	case alert.OutcomeRevised:
		fmt.Fprintf(&b, "countdown revised: %s", res.Status)
	case alert.OutcomeIgnored:
		fmt.Fprintf(&b, "kept the sooner countdown: %s", res.Status)
	case alert.OutcomeCancelled:
		b.WriteString("countdown cancelled")
	default:
		if ev.IsCancel() {
			b.WriteString("no countdown to cancel")
		} else {
			b.WriteString("titles disabled; no countdown")
		}
	}
	if res.Broadcast != "" {
		fmt.Fprintf(&b, "\nbroadcast: %s", res.Broadcast)
	}
	return b.String()
}

func reloadHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		if deps.Reload == nil {
			return "", errors.New("reload not available")
		}
		changed, err := deps.Reload(ctx)
		if err != nil {
			req.Outcome = "rejected"
			return "", fmt.Errorf("config rejected, keeping previous: %w", err)
		}
		if len(changed) == 0 {
			req.Outcome = "unchanged"
			return "config unchanged", nil
		}
		req.Outcome = "applied"
		req.Target = strings.Join(changed, ",")
		return "config reloaded: " + req.Target, nil
	}
}

func statusHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		var st alert.Status
		if err := deps.Loop.Call(ctx, func() { st = deps.Coordinator.Status() }); err != nil {
			return "", err
		}
		return st.String(), nil
	}
}

func historyHandler(deps Deps) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		if deps.Store == nil {
			return "", storage.ErrDisabled
		}
		n := 10
		if len(req.Args) > 0 {
			v, err := strconv.Atoi(req.Args[0])
			if err != nil || v <= 0 {
				return "", fmt.Errorf("%w: history [n]", ErrUsage)
			}
			n = min(v, 100)
		}
		entries, err := deps.Store.RecentAudit(ctx, n)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "no history", nil
		}
		var b strings.Builder
		for _, e := range entries {
			fmt.Fprintf(&b, "%s %s/%s %s", e.At.Local().Format(time.DateTime), e.Source, e.Actor, e.Action)
			if e.Target != "" {
				fmt.Fprintf(&b, " %s", e.Target)
			}
			if e.Seconds > 0 {
				fmt.Fprintf(&b, " %ds", e.Seconds)
			}
			if e.Outcome != "" {
				fmt.Fprintf(&b, " -> %s", e.Outcome)
			}
			if e.Error != "" {
				fmt.Fprintf(&b, " (error: %s)", e.Error)
			}
			b.WriteByte('\n')
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
}
