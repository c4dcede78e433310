package ticker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickRunsPeriodicCallbacks(t *testing.T) {
	t.Parallel()
	l := New(20)
	var every, third int
	l.SchedulePeriodic(func() { every++ }, 1)
	l.SchedulePeriodic(func() { third++ }, 3)

	for i := 0; i < 6; i++ {
		l.Tick()
	}
	assert.Equal(t, 6, every)
	assert.Equal(t, 2, third)
	assert.Equal(t, uint64(6), l.Ticks())
}

func TestCancelInsideCallback(t *testing.T) {
	t.Parallel()
	l := New(20)
	var h Handle
	calls := 0
	h = l.SchedulePeriodic(func() {
		calls++
		if calls == 2 {
			l.Cancel(h)
		}
	}, 1)
	for i := 0; i < 5; i++ {
		l.Tick()
	}
	assert.Equal(t, 2, calls)
	assert.Equal(t, 0, l.Active())

	l.Cancel(h)
	l.Cancel(Handle(999))
}

func TestCallbackCancelsLaterRegistration(t *testing.T) {
	t.Parallel()
	l := New(20)
	var second Handle
	ran := false
	l.SchedulePeriodic(func() { l.Cancel(second) }, 1)
	second = l.SchedulePeriodic(func() { ran = true }, 1)
	l.Tick()
	assert.False(t, ran)
}

func TestPanicDoesNotStopTick(t *testing.T) {
	t.Parallel()
	l := New(20)
	ok := 0
	l.SchedulePeriodic(func() { panic("boom") }, 1)
	l.SchedulePeriodic(func() { ok++ }, 1)
	l.Tick()
	l.Tick()
	assert.Equal(t, 2, ok)
}

func TestRunWithFakeClock(t *testing.T) {
	t.Parallel()
	clock := clockwork.NewFakeClock()
	l := New(20, WithClock(clock))
	assert.Equal(t, 50*time.Millisecond, l.Period())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	ticks := make(chan uint64, 16)
	require.NoError(t, l.Call(ctx, func() {
		l.SchedulePeriodic(func() { ticks <- l.Ticks() }, 1)
	}))

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))
	clock.Advance(50 * time.Millisecond)

	select {
	case n := <-ticks:
		assert.Equal(t, uint64(1), n)
	case <-time.After(2 * time.Second):
		t.Fatal("tick not delivered")
	}

	cancel()
	require.NoError(t, <-errCh)
	<-l.Done()
	assert.ErrorIs(t, l.Submit(func() {}), ErrStopped)
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
}

func TestCallSkipsWorkAbandonedByContext(t *testing.T) {
	t.Parallel()
	l := New(20)

	// nothing drains the queue yet, so the deadline passes while fn is queued
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := l.Call(ctx, func() { ran.Store(true) })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go func() { _ = l.Run(runCtx) }()

	require.NoError(t, l.Call(context.Background(), func() {}))
	assert.False(t, ran.Load())
}
