package broadcast

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"nerdalert/internal/eventbus"
	rtsup "nerdalert/internal/runtime/supervisor"
	"nerdalert/pkg/chatfmt"
	logx "nerdalert/pkg/logx"
)

var (
	ErrQueueFull = errors.New("mirror queue full")
	ErrStopped   = errors.New("mirror stopped")
)

// Sender delivers plain text to one chat. The Telegram adapter implements it.
type Sender interface {
	SendPlain(ctx context.Context, chatID int64, text string) error
}

// MirrorConfig controls the Telegram mirror pipeline.
type MirrorConfig struct {
	ChatIDs       []int64
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

type HistoryItem struct {
	At     time.Time
	ChatID int64
	Text   string
}

type job struct {
	chatID int64
	text   string
}

// Mirror copies broadcasts to Telegram chats through a queue, a single worker
// (so chats see messages in order), a rate limiter and retry with backoff.
//
// Broadcast never blocks on the network; it is safe to call from the tick loop.
type Mirror struct {
	mu sync.Mutex

	log    logx.Logger
	sender Sender
	bus    eventbus.Bus

	cfg     MirrorConfig
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func NewMirror(cfg MirrorConfig, sender Sender, log logx.Logger, bus eventbus.Bus) *Mirror {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	m := &Mirror{sender: sender, log: log, bus: bus}
	m.applyLocked(cfg)
	return m
}

// Apply swaps chat targets, rate and retry settings. Queue size only changes on restart.
func (m *Mirror) Apply(cfg MirrorConfig) {
	m.mu.Lock()
	m.applyLocked(cfg)
	m.mu.Unlock()
}

func (m *Mirror) applyLocked(cfg MirrorConfig) {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	cfg.ChatIDs = append([]int64(nil), cfg.ChatIDs...)
	m.cfg = cfg
	m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (m *Mirror) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopDone != nil {
		done := m.stopDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		m.mu.Lock()
	}
	if m.queue != nil {
		m.mu.Unlock()
		return
	}
	m.queue = make(chan job, m.cfg.QueueSize)
	m.accepting = true
	m.sup = rtsup.New(ctx,
		rtsup.WithLogger(m.log),
		// a dead chat must not take the daemon down
		rtsup.WithCancelOnError(false),
	)
	sup, q := m.sup, m.queue
	m.mu.Unlock()

	sup.GoRestart("mirror.worker", func(c context.Context) error {
		m.workerLoop(c, q)
		m.mu.Lock()
		stopping := m.stopDone != nil
		m.mu.Unlock()
		if stopping || c.Err() != nil {
			return nil
		}
		return errors.New("mirror worker exited unexpectedly")
	})
	m.log.Info("mirror started", logx.Int("chats", len(m.chatIDs())))
}

// Stop stops intake and drains the queue until ctx expires.
func (m *Mirror) Stop(ctx context.Context) {
	m.mu.Lock()
	q, sup := m.queue, m.sup
	if q == nil {
		m.mu.Unlock()
		return
	}
	if m.stopDone != nil {
		done := m.stopDone
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	m.stopDone = done
	m.accepting = false
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		m.mu.Lock()
		m.queue = nil
		m.sup = nil
		m.stopDone = nil
		m.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Broadcast queues text, colour codes stripped, for every configured chat.
func (m *Mirror) Broadcast(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	text = strings.TrimSpace(chatfmt.StripColors(text))
	if text == "" {
		return nil
	}

	m.mu.Lock()
	if !m.accepting || m.queue == nil {
		m.mu.Unlock()
		return ErrStopped
	}
	q := m.queue
	ids := append([]int64(nil), m.cfg.ChatIDs...)
	m.sendWG.Add(1)
	m.mu.Unlock()
	defer m.sendWG.Done()

	var dropped bool
	for _, id := range ids {
		select {
		case q <- job{chatID: id, text: text}:
		default:
			dropped = true
			m.bus.Publish(eventbus.Event{Type: eventbus.MirrorDropped, Data: eventbus.Mirror{ChatID: id, Error: ErrQueueFull.Error()}})
		}
	}
	if dropped {
		return ErrQueueFull
	}
	return nil
}

func (m *Mirror) History() []HistoryItem {
	m.hmu.Lock()
	out := append([]HistoryItem(nil), m.history...)
	m.hmu.Unlock()
	return out
}

func (m *Mirror) appendHistory(chatID int64, text string) {
	m.hmu.Lock()
	m.history = append(m.history, HistoryItem{At: time.Now(), ChatID: chatID, Text: text})
	if len(m.history) > 100 {
		m.history = m.history[len(m.history)-100:]
	}
	m.hmu.Unlock()
}

func (m *Mirror) chatIDs() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.ChatIDs
}

func (m *Mirror) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			m.sendWithRetry(ctx, j)
		}
	}
}

func (m *Mirror) sendWithRetry(ctx context.Context, j job) {
	m.mu.Lock()
	cfg, lim, sender := m.cfg, m.limiter, m.sender
	m.mu.Unlock()
	if sender == nil {
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		cctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := sender.SendPlain(cctx, j.chatID, j.text)
		cancel()
		if err == nil {
			m.appendHistory(j.chatID, j.text)
			m.bus.Publish(eventbus.Event{Type: eventbus.MirrorSent, Data: eventbus.Mirror{ChatID: j.chatID}})
			return
		}
		lastErr = err
		m.log.Debug("mirror send failed", logx.Int64("chat_id", j.chatID), logx.Int("attempt", attempt), logx.Err(err))
		if attempt >= attempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
	m.log.Warn("mirror gave up", logx.Int64("chat_id", j.chatID), logx.Int("attempts", attempts), logx.Err(lastErr))
	m.bus.Publish(eventbus.Event{Type: eventbus.MirrorFailed, Data: eventbus.Mirror{ChatID: j.chatID, Error: lastErr.Error()}})
}

// retryDelay is base * 2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg MirrorConfig, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
