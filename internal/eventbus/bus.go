// Package eventbus is a small in-memory fanout for lifecycle signals
// (countdowns starting, revising, finishing; config reloads).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	CountdownStarted   = "countdown.started"
	CountdownRevised   = "countdown.revised"
	CountdownIgnored   = "countdown.ignored"
	CountdownCancelled = "countdown.cancelled"
	CountdownFinished  = "countdown.finished"
	ConfigReloaded     = "config.reloaded"
	CommandRejected    = "command.rejected"
	MirrorSent         = "mirror.sent"
	MirrorFailed       = "mirror.failed"
	MirrorDropped      = "mirror.dropped"
)

// Mirror is the Data payload of mirror.* events.
type Mirror struct {
	ChatID int64  `json:"chat_id"`
	Error  string `json:"error,omitempty"`
}

// Event is a lightweight signal.
//
// Publish never blocks; a subscriber whose buffer is full misses the event.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Countdown is the Data payload of countdown.* events.
type Countdown struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Seconds  int    `json:"seconds"`
	Duration int    `json:"duration"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sending under the read lock keeps unsubscribe (write lock) from closing mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
