package alert

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"

	"nerdalert/internal/display"
	"nerdalert/internal/eventbus"
	"nerdalert/internal/ticker"
	logx "nerdalert/pkg/logx"
)

// Broadcaster sends a chat message to every connected player.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) error
}

type Outcome string

const (
	OutcomeStarted   Outcome = "started"
	OutcomeRevised   Outcome = "revised"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeNone means no countdown was touched (titles disabled, or nothing to cancel).
	OutcomeNone Outcome = "none"
)

// Event is a parsed "event <key> [amount unit]" request.
type Event struct {
	Key     string
	Seconds int

	// Args are every argument after the key, used to expand the broadcast template.
	Args   []string
	Source string
}

// IsCancel reports whether the key asks to cancel rather than count down.
func (e Event) IsCancel() bool {
	return strings.HasPrefix(strings.ToLower(e.Key), "cancel")
}

type Result struct {
	Broadcast string
	Outcome   Outcome
	Status    Status
}

// Status describes the countdown the coordinator holds, if any.
type Status struct {
	Active    bool   `json:"active"`
	Running   bool   `json:"running"`
	ID        string `json:"id,omitempty"`
	Title     string `json:"title,omitempty"`
	Duration  int    `json:"duration"`
	Remaining int    `json:"remaining"`
}

func (s Status) String() string {
	if !s.Active {
		return "no countdown"
	}
	state := "finished"
	if s.Running {
		state = "running"
	}
	return fmt.Sprintf("%q %s: %d of %d seconds left", s.Title, state, max(s.Remaining, 0), s.Duration)
}

// Coordinator owns at most one countdown. Like the task itself it must only be
// used from the scheduler's goroutine.
type Coordinator struct {
	conf        *Configuration
	sched       ticker.Scheduler
	sink        display.Sink
	broadcaster Broadcaster
	clock       clockwork.Clock
	bus         eventbus.Bus
	log         logx.Logger

	task *CountdownTask
}

type Option func(*Coordinator)

func WithClock(c clockwork.Clock) Option   { return func(co *Coordinator) { co.clock = c } }
func WithBus(b eventbus.Bus) Option        { return func(co *Coordinator) { co.bus = b } }
func WithLogger(l logx.Logger) Option      { return func(co *Coordinator) { co.log = l } }
func WithBroadcaster(b Broadcaster) Option { return func(co *Coordinator) { co.broadcaster = b } }

func NewCoordinator(conf *Configuration, sched ticker.Scheduler, sink display.Sink, opts ...Option) *Coordinator {
	c := &Coordinator{
		conf:  conf,
		sched: sched,
		sink:  sink,
		clock: clockwork.NewRealClock(),
		bus:   eventbus.Nop(),
		log:   logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Coordinator) Configuration() *Configuration { return c.conf }

// ShowCountdown starts a countdown, or revises the current one under the
// soonest-wins rule. A finished countdown that gets revised runs again.
func (c *Coordinator) ShowCountdown(title string, seconds int) Outcome {
	if c.task == nil {
		t := NewCountdownTask(c.conf, c.sink, c.clock, title, seconds)
		t.log = c.log
		t.onFinish = c.finished
		c.task = t
		t.Start(c.sched)
		c.publish(eventbus.CountdownStarted, t)
		c.log.Info("countdown started", logx.String("id", t.id.String()), logx.String("title", title), logx.Int("seconds", seconds))
		return OutcomeStarted
	}

	t := c.task
	prev := t.remaining
	if !t.Revise(title, seconds) {
		c.publish(eventbus.CountdownIgnored, t)
		c.log.Info("countdown revise ignored; current one is sooner",
			logx.String("title", title), logx.Int("seconds", seconds), logx.Int("remaining", prev))
		return OutcomeIgnored
	}
	t.Start(c.sched)
	c.publish(eventbus.CountdownRevised, t)
	c.log.Info("countdown revised",
		logx.String("id", t.id.String()), logx.String("title", title), logx.Int("seconds", seconds), logx.Int("was", prev))
	return OutcomeRevised
}

// CancelCountdown cancels and drops the current countdown. It reports whether there was one.
func (c *Coordinator) CancelCountdown() bool {
	t := c.task
	if t == nil {
		return false
	}
	t.Cancel()
	c.task = nil
	c.publish(eventbus.CountdownCancelled, t)
	c.log.Info("countdown cancelled", logx.String("id", t.id.String()), logx.String("title", t.title))
	return true
}

// Shutdown deregisters any scheduled work unconditionally.
func (c *Coordinator) Shutdown() {
	if c.task == nil {
		return
	}
	c.task.Cancel()
	c.task = nil
}

func (c *Coordinator) Status() Status {
	t := c.task
	if t == nil {
		return Status{}
	}
	return Status{
		Active:    true,
		Running:   t.Running(),
		ID:        t.id.String(),
		Title:     t.title,
		Duration:  t.duration,
		Remaining: t.remaining,
	}
}

// Announce handles one event: the optional broadcast, then the countdown
// (or its cancellation) if titles are enabled.
func (c *Coordinator) Announce(ctx context.Context, ev Event) Result {
	snap := c.conf.Current()
	var res Result

	if snap.Settings.BroadcastShow {
		res.Broadcast = snap.Messages.Broadcast(ev.Key, ev.Args)
		if c.broadcaster != nil {
			if err := c.broadcaster.Broadcast(ctx, res.Broadcast); err != nil {
				c.log.Warn("broadcast failed", logx.String("key", ev.Key), logx.Err(err))
			}
		}
	}

	switch {
	case ev.IsCancel():
		res.Outcome = OutcomeNone
		if c.CancelCountdown() {
			res.Outcome = OutcomeCancelled
		}
	case snap.Settings.TitleShow:
		res.Outcome = c.ShowCountdown(snap.Messages.Title(ev.Key), ev.Seconds)
	default:
		res.Outcome = OutcomeNone
	}
	res.Status = c.Status()
	return res
}

func (c *Coordinator) finished(t *CountdownTask) {
	c.publish(eventbus.CountdownFinished, t)
}

func (c *Coordinator) publish(typ string, t *CountdownTask) {
	c.bus.Publish(eventbus.Event{
		Type: typ,
		Time: c.clock.Now(),
		Data: eventbus.Countdown{
			ID:       t.id.String(),
			Title:    t.title,
			Seconds:  t.remaining,
			Duration: t.duration,
		},
	})
}
