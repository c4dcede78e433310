// Package app wires the countdown core to its hosts: the console bridge, the
// Telegram operator channel, cron schedules, the audit store and config reload.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/jonboulle/clockwork"

	"nerdalert/internal/alert"
	"nerdalert/internal/broadcast"
	"nerdalert/internal/command"
	"nerdalert/internal/config"
	"nerdalert/internal/console"
	"nerdalert/internal/display"
	"nerdalert/internal/eventbus"
	rtsup "nerdalert/internal/runtime/supervisor"
	"nerdalert/internal/schedule"
	"nerdalert/internal/storage"
	"nerdalert/internal/ticker"
	kit "nerdalert/internal/transport"
	telegram "nerdalert/internal/transport/telegram/adapter"
	"nerdalert/internal/transport/telegram/router"
	logx "nerdalert/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock clockwork.Clock

	loop   *ticker.Loop
	out    *console.Writer
	in     io.Reader
	conf   *alert.Configuration
	coord  *alert.Coordinator
	mirror *broadcast.Mirror
	disp   *command.Dispatcher
	sched  *schedule.Service

	adapter *telegram.Adapter
	router  *router.Router
	updates chan kit.Update
}

type Option func(*App)

// WithInput replaces stdin as the operator console input.
func WithInput(r io.Reader) Option { return func(a *App) { a.in = r } }

// WithClock replaces the wall clock driving the tick loop and countdowns.
func WithClock(c clockwork.Clock) Option { return func(a *App) { a.clock = c } }

func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{in: os.Stdin, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(a)
	}

	cfgm := config.NewManager(cfgPath)
	// transactional reload: anything rejected here keeps the previous config
	cfgm.SetValidator(func(ctx context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return schedule.Validate(cfg.Schedules)
	})
	cfg, err := cfgm.Parse()
	if err != nil {
		return nil, err
	}
	if err := schedule.Validate(cfg.Schedules); err != nil {
		return nil, err
	}
	cfgm.Commit(cfg)
	a.cfgm = cfgm

	a.logs, a.log = logx.New(mapLogConfig(cfg), nil)
	log := a.log
	a.log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	if cfg.Telegram.Enabled {
		pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
		if err != nil {
			return nil, err
		}
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: pollTimeout,
		}, log.With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter = ad
		a.logs.SetSender(ad)
	}

	a.bus = eventbus.New()

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		a.store = st
		a.log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a.loop = ticker.New(cfg.Ticker.TPS, ticker.WithClock(a.clock), ticker.WithLogger(log.With(logx.String("comp", "ticker"))))
	a.out = console.NewWriter(cfg.Console.Output, log.With(logx.String("comp", "console")))

	var bc broadcast.Multi
	bc = append(bc, broadcast.NewConsole(a.out))
	if a.adapter != nil && len(cfg.Telegram.BroadcastChatIDs) > 0 {
		a.mirror = broadcast.NewMirror(mapMirrorConfig(cfg), a.adapter, log.With(logx.String("comp", "mirror")), a.bus)
		bc = append(bc, a.mirror)
	}

	a.conf = alert.NewConfiguration(cfg.Event)
	a.coord = alert.NewCoordinator(a.conf, a.loop, display.NewConsole(a.out, log.With(logx.String("comp", "display"))),
		alert.WithClock(a.clock),
		alert.WithBus(a.bus),
		alert.WithBroadcaster(bc),
		alert.WithLogger(log.With(logx.String("comp", "alert"))),
	)

	a.disp = command.NewDispatcher(cfg.Console.Prefix, a.store, log.With(logx.String("comp", "command")))
	if err := command.RegisterBuiltins(a.disp, command.Deps{
		Loop:        a.loop,
		Coordinator: a.coord,
		Reload:      a.reload,
		Store:       a.store,
	}); err != nil {
		return nil, err
	}

	a.sched = schedule.New(func(ctx context.Context, name, line string) error {
		_, err := a.disp.Dispatch(ctx, command.SourceSchedule, name, true, line)
		return err
	}, log.With(logx.String("comp", "schedule")))
	if err := a.sched.Apply(cfg.Schedules); err != nil {
		return nil, err
	}

	if a.adapter != nil {
		a.router = router.New(log.With(logx.String("comp", "telegram.router")), a.adapter, a.disp, cfg.Telegram.OwnerUserIDs)
		a.updates = make(chan kit.Update, 64)
	}
	return a, nil
}

// Dispatcher exposes the command surface (console and tests).
func (a *App) Dispatcher() *command.Dispatcher { return a.disp }

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// reload backs the "reload" command: it re-reads the file now and reports
// which sections changed. Applying the change happens in the subscriber.
func (a *App) reload(ctx context.Context) ([]string, error) {
	prev := a.cfgm.Get()
	next, changed, err := a.cfgm.Reload(ctx)
	if err != nil {
		a.log.Warn("config rejected; keeping previous", logx.Err(err))
		return nil, err
	}
	if !changed {
		return nil, nil
	}
	return config.ChangedSections(prev, next), nil
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	sctx := a.sup.Context()

	a.sup.Go("console.output", a.out.Run)
	a.sup.Go("ticker.loop", a.loop.Run)

	if a.mirror != nil {
		a.mirror.Start(sctx)
	}
	a.sched.Start(sctx)

	if a.adapter != nil {
		if err := a.adapter.Start(sctx, a.updates); err != nil {
			return err
		}
		a.sup.Go("telegram.router", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := a.router.UpdateMenu(mctx, a.disp.Commands()); err != nil {
				a.log.Warn("telegram menu update failed", logx.Err(err))
			}
		})
	}

	if a.cfgm.Get().Console.Input && a.in != nil {
		reader := console.NewReader(a.in, a.log.With(logx.String("comp", "console.input")))
		a.sup.Go("console.input", func(c context.Context) error {
			return reader.Run(c, a.handleConsoleLine)
		})
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	// taken with the subscription so a commit racing this goroutine still diffs
	last := a.cfgm.Get()
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) { a.watchdog(c, interval/2) })
	}
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("systemd notify failed", logx.Err(err))
	} else if ok {
		a.log.Debug("systemd notified ready")
	}

	a.log.Info("app started",
		logx.Int("tps", a.cfgm.Get().Ticker.TPS),
		logx.String("console", a.out.Target()),
		logx.Bool("telegram", a.adapter != nil),
		logx.Int("schedules", len(a.cfgm.Get().Schedules)),
	)
	return nil
}

func (a *App) handleConsoleLine(ctx context.Context, line string) {
	reply, err := a.disp.Dispatch(ctx, command.SourceConsole, "console", true, line)
	if errors.Is(err, command.ErrEmpty) {
		return
	}
	if err != nil {
		a.log.Warn("console command failed", logx.String("line", line), logx.Err(err))
		return
	}
	for _, l := range strings.Split(reply, "\n") {
		a.log.Info(l, logx.String("source", "console"))
	}
}

// watchdog pings systemd only while the tick loop answers.
func (a *App) watchdog(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			cctx, cancel := context.WithTimeout(ctx, every)
			err := a.loop.Call(cctx, func() {})
			cancel()
			if err != nil {
				a.log.Warn("tick loop unresponsive; skipping watchdog ping", logx.Err(err))
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

// applyConfig fans a committed config out to the running components.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections := config.ChangedSections(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(next))

	ev := next.Event
	if err := a.loop.Submit(func() { a.conf.Reload(ev) }); err != nil {
		a.log.Warn("event settings not applied", logx.Err(err))
	}

	if err := a.sched.Apply(next.Schedules); err != nil {
		a.log.Warn("schedules not applied; keeping previous", logx.Err(err))
	}
	if a.router != nil {
		a.router.SetOwners(next.Telegram.OwnerUserIDs)
	}
	if a.mirror != nil {
		a.mirror.Apply(mapMirrorConfig(next))
	}

	for _, s := range sections {
		switch s {
		case "storage", "ticker", "console":
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		case "telegram":
			if prev.Telegram.Enabled != next.Telegram.Enabled || prev.Telegram.Token != next.Telegram.Token {
				a.log.Warn("telegram enable/token changed; restart required")
			}
		}
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Data: sections})
	a.log.Info("config reloaded", logx.String("changed", strings.Join(sections, ",")))
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Deregister the countdown on the loop while it still runs.
	a.step(ctx, "countdown", time.Second, func(c context.Context) error {
		return a.loop.Call(c, a.coord.Shutdown)
	})

	a.sup.Cancel()

	a.step(ctx, "schedule", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "mirror", 2*time.Second, func(c context.Context) error {
		if a.mirror != nil {
			a.mirror.Stop(c)
		}
		return nil
	})
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error {
		if a.adapter != nil {
			return a.adapter.Stop(c)
		}
		return nil
	})
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.step(ctx, "console", time.Second, func(c context.Context) error { return a.out.Close() })

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max so a stuck component cannot stall the rest.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		if took := time.Since(start); took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
