package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jonboulle/clockwork"

	"nerdalert/internal/alert"
	"nerdalert/internal/broadcast"
	"nerdalert/internal/command"
	"nerdalert/internal/config"
	"nerdalert/internal/console"
	"nerdalert/internal/display"
	"nerdalert/internal/ticker"
	logx "nerdalert/pkg/logx"
)

// render plays an event on a fake clock and writes every console line it
// produces, each prefixed with the countdown time it would appear at.
func render(w io.Writer, cfg *config.Config, args []string) error {
	ev, err := command.ParseEvent(args)
	if err != nil && ev.Key == "" {
		return err
	}
	if err != nil {
		fmt.Fprintf(w, "# %v (treated as 0 seconds)\n", err)
	}

	clock := clockwork.NewFakeClock()
	start := clock.Now()
	lines := &stamped{w: w, clock: clock, start: start}
	out := console.NewWriterTo(lines)

	loop := ticker.New(cfg.Ticker.TPS, ticker.WithClock(clock))
	coord := alert.NewCoordinator(
		alert.NewConfiguration(cfg.Event),
		loop,
		display.NewConsole(out, logx.Nop()),
		alert.WithClock(clock),
		alert.WithBroadcaster(broadcast.NewConsole(out)),
	)

	res := coord.Announce(context.Background(), ev)
	fmt.Fprintf(w, "# outcome: %s\n", res.Outcome)

	// One extra second covers the final "now" frame.
	limit := time.Duration(ev.Seconds+1) * time.Second
	for coord.Status().Running && clock.Since(start) <= limit {
		clock.Advance(loop.Period())
		loop.Tick()
	}
	return nil
}

type stamped struct {
	w     io.Writer
	clock clockwork.Clock
	start time.Time
}

func (s *stamped) Write(p []byte) (int, error) {
	el := s.clock.Since(s.start).Truncate(time.Millisecond)
	if _, err := fmt.Fprintf(s.w, "[%8s] %s", el, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
