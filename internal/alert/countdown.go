package alert

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"nerdalert/internal/display"
	"nerdalert/internal/ticker"
	logx "nerdalert/pkg/logx"
)

// notDisplayed forces a refresh on the first tick after (re)initialisation.
// It can't collide with a computed remaining value, negative ones included.
const notDisplayed = math.MinInt

// CountdownTask shows a title countdown toward one event.
//
// The remaining time is recomputed from the wall clock on every tick, so the
// display stays right when ticks arrive late. All methods must run on the
// scheduler's goroutine.
type CountdownTask struct {
	id    uuid.UUID
	conf  *Configuration
	sink  display.Sink
	clock clockwork.Clock
	log   logx.Logger

	title         string
	duration      int
	remaining     int
	lastDisplayed int
	startTime     time.Time

	sched  ticker.Scheduler
	handle ticker.Handle

	// onFinish runs after the task cancels itself at zero.
	onFinish func(t *CountdownTask)
}

// NewCountdownTask prepares a countdown of seconds. It does not start ticking.
func NewCountdownTask(conf *Configuration, sink display.Sink, clock clockwork.Clock, title string, seconds int) *CountdownTask {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	t := &CountdownTask{
		id:    uuid.New(),
		conf:  conf,
		sink:  sink,
		clock: clock,
		log:   logx.Nop(),
	}
	t.initialise(title, seconds)
	return t
}

func (t *CountdownTask) initialise(title string, seconds int) {
	t.title = title
	t.duration = seconds
	t.remaining = seconds
	t.lastDisplayed = notDisplayed
	t.startTime = t.clock.Now()
}

func (t *CountdownTask) ID() uuid.UUID  { return t.id }
func (t *CountdownTask) Title() string  { return t.title }
func (t *CountdownTask) Duration() int  { return t.duration }
func (t *CountdownTask) Remaining() int { return t.remaining }
func (t *CountdownTask) Running() bool  { return t.handle != 0 }

// Finished reports whether the countdown has reached zero.
func (t *CountdownTask) Finished() bool { return t.remaining <= 0 }

// Start registers the per-tick callback. It reports false if already running.
func (t *CountdownTask) Start(s ticker.Scheduler) bool {
	if t.handle != 0 {
		return false
	}
	t.sched = s
	t.handle = s.SchedulePeriodic(t.tick, 1)
	return true
}

// Revise re-targets the countdown if seconds is sooner than what remains, or
// if the countdown already finished. It reports whether anything changed.
func (t *CountdownTask) Revise(title string, seconds int) bool {
	if seconds < t.remaining || t.remaining <= 0 {
		t.initialise(title, seconds)
		return true
	}
	return false
}

// Cancel deregisters the callback. It reports false if nothing was registered.
func (t *CountdownTask) Cancel() bool {
	if t.handle == 0 {
		return false
	}
	t.sched.Cancel(t.handle)
	t.handle = 0
	return true
}

func (t *CountdownTask) tick() {
	if t.handle == 0 {
		return
	}
	snap := t.conf.Current()
	set := snap.Settings

	elapsed := t.clock.Since(t.startTime) + time.Duration(set.EarlyMillis)*time.Millisecond
	remaining := t.duration - int(elapsed/time.Second)
	t.remaining = remaining

	if remaining != t.lastDisplayed {
		t.lastDisplayed = remaining
		if remaining == t.duration || remaining <= set.TitleThresholdSeconds || remaining%60 == 0 {
			t.show(set, snap.Messages.Subtitle(remaining))
		}
	}

	if remaining <= 0 {
		t.Cancel()
		t.log.Debug("countdown finished", logx.String("id", t.id.String()), logx.String("title", t.title))
		if t.onFinish != nil {
			t.onFinish(t)
		}
	}
}

func (t *CountdownTask) show(set Settings, subtitle string) {
	t.sink.SetTiming(set.FadeInTicks, set.DisplayTicks, set.FadeOutTicks)
	t.sink.SetTitle(t.title)
	if subtitle != "" {
		t.sink.SetSubtitle(subtitle)
	}
}
