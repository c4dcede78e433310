package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerdalert/internal/config"
	"nerdalert/internal/display"
	"nerdalert/internal/eventbus"
	"nerdalert/internal/ticker"
)

type recordingBroadcaster struct {
	texts []string
	err   error
}

func (r *recordingBroadcaster) Broadcast(ctx context.Context, text string) error {
	r.texts = append(r.texts, text)
	return r.err
}

type coordHarness struct {
	loop  *ticker.Loop
	sink  *display.Recorder
	clock *clockwork.FakeClock
	bc    *recordingBroadcaster
	bus   eventbus.Bus
	conf  *Configuration
	co    *Coordinator
}

func newCoord(ev config.EventConfig) *coordHarness {
	h := &coordHarness{
		loop:  ticker.New(20),
		sink:  &display.Recorder{},
		clock: clockwork.NewFakeClock(),
		bc:    &recordingBroadcaster{},
		bus:   eventbus.New(),
		conf:  NewConfiguration(ev),
	}
	h.co = NewCoordinator(h.conf, h.loop, h.sink,
		WithClock(h.clock), WithBus(h.bus), WithBroadcaster(h.bc))
	return h
}

func (h *coordHarness) advance(ticks int, step time.Duration) {
	for i := 0; i < ticks; i++ {
		h.loop.Tick()
		h.clock.Advance(step)
	}
}

func drain(ch <-chan eventbus.Event) []string {
	var out []string
	for {
		select {
		case ev := <-ch:
			out = append(out, ev.Type)
		default:
			return out
		}
	}
}

func restartMessages() map[string]config.EventMessages {
	return map[string]config.EventMessages{
		"restart": {Broadcast: "&eServer restart in %s %s", Title: "&cRestart"},
	}
}

func TestAnnounceRestartFiveMinutes(t *testing.T) {
	t.Parallel()
	h := newCoord(config.EventConfig{Messages: restartMessages()})
	events, unsub := h.bus.Subscribe(16)
	defer unsub()

	res := h.co.Announce(context.Background(), Event{Key: "restart", Seconds: 300, Args: []string{"5", "minutes"}})
	assert.Equal(t, OutcomeStarted, res.Outcome)
	assert.Equal(t, "&eServer restart in 5 minutes", res.Broadcast)
	assert.Equal(t, []string{"&eServer restart in 5 minutes"}, h.bc.texts)
	assert.True(t, res.Status.Active)
	assert.Equal(t, "&cRestart", res.Status.Title)

	h.advance(1, time.Second)
	assert.Equal(t, []string{"in 5 minutes"}, h.sink.Subtitles())
	assert.Equal(t, []string{eventbus.CountdownStarted}, drain(events))
}

func TestAnnounceWithoutAmountShowsNowOnce(t *testing.T) {
	t.Parallel()
	h := newCoord(config.EventConfig{Messages: restartMessages()})
	events, unsub := h.bus.Subscribe(16)
	defer unsub()

	h.co.Announce(context.Background(), Event{Key: "restart"})
	h.advance(10, 50*time.Millisecond)

	assert.Equal(t, []string{"now"}, h.sink.Subtitles())
	assert.Equal(t, 0, h.loop.Active())
	assert.Equal(t, []string{eventbus.CountdownStarted, eventbus.CountdownFinished}, drain(events))

	st := h.co.Status()
	assert.True(t, st.Active)
	assert.False(t, st.Running)
	assert.Equal(t, `"&cRestart" finished: 0 of 0 seconds left`, st.String())
}

func TestAnnounceCancel(t *testing.T) {
	t.Parallel()
	h := newCoord(config.EventConfig{Messages: map[string]config.EventMessages{
		"cancel": {Broadcast: "&aRestart cancelled"},
	}})
	events, unsub := h.bus.Subscribe(16)
	defer unsub()

	h.co.Announce(context.Background(), Event{Key: "restart", Seconds: 60})
	h.advance(2, time.Second)
	require.Equal(t, 1, h.loop.Active())

	res := h.co.Announce(context.Background(), Event{Key: "CANCELLED"})
	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.False(t, res.Status.Active)
	assert.Equal(t, "CANCELLED", res.Broadcast, "unknown key broadcasts the key itself")

	before := len(h.sink.Directives())
	h.advance(5, time.Second)
	assert.Len(t, h.sink.Directives(), before)
	assert.Equal(t, 0, h.loop.Active())

	res = h.co.Announce(context.Background(), Event{Key: "cancel"})
	assert.Equal(t, OutcomeNone, res.Outcome)
	assert.Equal(t, "&aRestart cancelled", res.Broadcast)
	assert.Equal(t, []string{eventbus.CountdownStarted, eventbus.CountdownCancelled}, drain(events))
}

func TestShowCountdownRevisePolicy(t *testing.T) {
	t.Parallel()
	h := newCoord(config.EventConfig{})
	events, unsub := h.bus.Subscribe(16)
	defer unsub()

	assert.Equal(t, OutcomeStarted, h.co.ShowCountdown("restart", 600))
	h.advance(1, time.Second)
	assert.Equal(t, OutcomeIgnored, h.co.ShowCountdown("shutdown", 900))
	assert.Equal(t, OutcomeRevised, h.co.ShowCountdown("shutdown", 120))
	assert.Equal(t, 1, h.loop.Active(), "revise keeps a single registration")
	assert.Equal(t, "shutdown", h.co.Status().Title)
	assert.Equal(t, []string{
		eventbus.CountdownStarted, eventbus.CountdownIgnored, eventbus.CountdownRevised,
	}, drain(events))
}

func TestFinishedCountdownRestartsOnRevise(t *testing.T) {
	t.Parallel()
	h := newCoord(config.EventConfig{})
	h.co.ShowCountdown("test", 0)
	h.advance(2, time.Second)
	require.False(t, h.co.Status().Running)

	assert.Equal(t, OutcomeRevised, h.co.ShowCountdown("restart", 30))
	assert.True(t, h.co.Status().Running)
	assert.Equal(t, 1, h.loop.Active())
}

func TestAnnounceHonoursShowFlags(t *testing.T) {
	t.Parallel()
	off := false
	h := newCoord(config.EventConfig{
		Broadcast: config.EventBroadcast{Show: &off},
		Title:     config.EventTitle{Show: &off},
	})
	res := h.co.Announce(context.Background(), Event{Key: "restart", Seconds: 60})
	assert.Equal(t, OutcomeNone, res.Outcome)
	assert.Empty(t, res.Broadcast)
	assert.Empty(t, h.bc.texts)
	assert.Equal(t, 0, h.loop.Active())
}

func TestBroadcastFailureDoesNotBlockCountdown(t *testing.T) {
	t.Parallel()
	h := newCoord(config.EventConfig{})
	h.bc.err = errors.New("console gone")
	res := h.co.Announce(context.Background(), Event{Key: "restart", Seconds: 10})
	assert.Equal(t, OutcomeStarted, res.Outcome)
}

func TestShutdownDeregisters(t *testing.T) {
	t.Parallel()
	h := newCoord(config.EventConfig{})
	h.co.ShowCountdown("restart", 100)
	h.advance(1, time.Second)
	h.co.Shutdown()
	h.co.Shutdown()
	assert.Equal(t, 0, h.loop.Active())
	assert.False(t, h.co.Status().Active)
	assert.Equal(t, "no countdown", h.co.Status().String())
}
