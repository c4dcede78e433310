// Package ticker is the host scheduler: one goroutine that advances a tick
// counter at a fixed rate and runs periodic callbacks and submitted work on it.
//
// Everything that touches countdown state runs on this goroutine, so the
// callbacks themselves need no locking.
package ticker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	logx "nerdalert/pkg/logx"
)

var ErrStopped = errors.New("ticker: loop stopped")

// Handle identifies a periodic registration. The zero Handle is never issued.
type Handle uint64

// Scheduler is the capability countdowns depend on.
type Scheduler interface {
	// SchedulePeriodic runs fn on the next tick and then every periodTicks ticks.
	SchedulePeriodic(fn func(), periodTicks int) Handle
	// Cancel removes a registration. Unknown or already cancelled handles are ignored.
	Cancel(h Handle)
}

type task struct {
	id     Handle
	fn     func()
	period uint64
	next   uint64
}

// Loop implements Scheduler. SchedulePeriodic and Cancel must be called on the
// loop goroutine (from a callback or submitted work); use Submit from anywhere else.
type Loop struct {
	clock  clockwork.Clock
	period time.Duration
	log    logx.Logger

	// loop goroutine only
	tick   uint64
	nextID Handle
	tasks  []*task

	work     chan func()
	stopOnce sync.Once
	done     chan struct{}
}

type Option func(*Loop)

func WithClock(c clockwork.Clock) Option { return func(l *Loop) { l.clock = c } }
func WithLogger(log logx.Logger) Option  { return func(l *Loop) { l.log = log } }

// New returns a loop running at tps ticks per second (20 if tps <= 0).
func New(tps int, opts ...Option) *Loop {
	if tps <= 0 {
		tps = 20
	}
	l := &Loop{
		clock:  clockwork.NewRealClock(),
		period: time.Second / time.Duration(tps),
		log:    logx.Nop(),
		work:   make(chan func(), 256),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Loop) Period() time.Duration { return l.period }

// Ticks returns the number of completed ticks. Loop goroutine only.
func (l *Loop) Ticks() uint64 { return l.tick }

func (l *Loop) SchedulePeriodic(fn func(), periodTicks int) Handle {
	if periodTicks < 1 {
		periodTicks = 1
	}
	l.nextID++
	l.tasks = append(l.tasks, &task{id: l.nextID, fn: fn, period: uint64(periodTicks), next: l.tick + 1})
	return l.nextID
}

func (l *Loop) Cancel(h Handle) {
	for _, t := range l.tasks {
		if t.id == h {
			t.fn = nil
		}
	}
}

// Active reports how many registrations are live.
func (l *Loop) Active() int {
	n := 0
	for _, t := range l.tasks {
		if t.fn != nil {
			n++
		}
	}
	return n
}

// Tick advances one tick and runs every due callback in registration order.
// Run calls it; tests may call it directly when Run is not active.
func (l *Loop) Tick() {
	l.tick++
	// Callbacks may register or cancel; iterate over a snapshot length.
	n := len(l.tasks)
	for i := 0; i < n; i++ {
		t := l.tasks[i]
		if t.fn == nil || t.next > l.tick {
			continue
		}
		t.next = l.tick + t.period
		l.safely("periodic", t.fn)
	}
	kept := l.tasks[:0]
	for _, t := range l.tasks {
		if t.fn != nil {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(l.tasks); i++ {
		l.tasks[i] = nil
	}
	l.tasks = kept
}

// Submit queues fn to run on the loop goroutine between ticks.
func (l *Loop) Submit(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}
	select {
	case l.work <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Call runs fn on the loop goroutine and waits for it to finish.
//
// An error means fn did not run: if ctx ends while fn is still queued, fn is
// skipped when the loop reaches it. Once fn has started, Call waits for it.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	const (
		queued int32 = iota
		started
		abandoned
	)
	var state atomic.Int32
	finished := make(chan struct{})
	if err := l.Submit(func() {
		defer close(finished)
		if ctx.Err() != nil || !state.CompareAndSwap(queued, started) {
			return
		}
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		if state.CompareAndSwap(queued, abandoned) {
			return ctx.Err()
		}
		select {
		case <-finished:
		case <-l.done:
			return ErrStopped
		}
	}
	if state.Load() != started {
		return ctx.Err()
	}
	return nil
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run drives the loop until ctx is cancelled. Every registration is dropped on exit.
func (l *Loop) Run(ctx context.Context) error {
	defer l.stopOnce.Do(func() { close(l.done) })

	t := l.clock.NewTicker(l.period)
	defer t.Stop()

	l.log.Info("tick loop started", logx.Duration("period", l.period))
	for {
		select {
		case <-ctx.Done():
			l.tasks = nil
			l.log.Info("tick loop stopped", logx.Uint64("ticks", l.tick))
			return nil
		case <-t.Chan():
			l.Tick()
		case fn := <-l.work:
			l.safely("submitted", fn)
		}
	}
}

func (l *Loop) safely(kind string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("tick callback panicked",
				logx.String("kind", kind),
				logx.Uint64("tick", l.tick),
				logx.String("panic", fmt.Sprint(r)),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	fn()
}
