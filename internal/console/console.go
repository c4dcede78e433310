// Package console bridges the daemon to the game server console: outbound
// command lines (title, tellraw) and inbound operator lines.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	logx "nerdalert/pkg/logx"
)

const (
	queueSize    = 256
	drainTimeout = 500 * time.Millisecond
)

// ErrQueueFull is returned by Dispatch when the output goroutine has fallen behind.
var ErrQueueFull = errors.New("console: output queue full")

// Writer writes one command per line to stdout, stderr, or a file/FIFO path.
//
// A Writer made by NewWriter never blocks its caller: Dispatch only queues the
// line and Run does the I/O. A path is opened lazily (non-blocking, so a FIFO
// without a reader fails instead of hanging) and reopened after a write error.
type Writer struct {
	target string
	log    logx.Logger
	queue  chan string // nil: Dispatch writes directly

	wmu sync.Mutex // serialises writes
	mu  sync.Mutex // guards w and f
	w   io.Writer
	f   *os.File

	dropped atomic.Uint64
}

func NewWriter(target string, log logx.Logger) *Writer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Writer{target: strings.TrimSpace(target), log: log, queue: make(chan string, queueSize)}
}

// NewWriterTo writes to w synchronously (tests, the render command).
func NewWriterTo(w io.Writer) *Writer {
	return &Writer{target: "writer", w: w, log: logx.Nop()}
}

func (w *Writer) Target() string { return w.target }

// Dropped counts lines rejected because the queue was full.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

func (w *Writer) Dispatch(line string) error {
	line = strings.TrimRight(line, "\r\n")
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("console: command contains a line break")
	}
	if w.queue == nil {
		return w.write(line)
	}
	select {
	case w.queue <- line:
		return nil
	default:
		w.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run drains the queue until ctx is done, then flushes what is left within a
// short deadline and closes the output.
func (w *Writer) Run(ctx context.Context) error {
	if w.queue == nil {
		<-ctx.Done()
		return nil
	}
	// unblocks a write stuck on a full pipe
	stop := context.AfterFunc(ctx, func() { w.setDeadline(time.Now().Add(drainTimeout)) })
	defer stop()

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return w.Close()
		case line := <-w.queue:
			if err := w.write(line); err != nil {
				w.log.Warn("console dispatch failed", logx.String("line", line), logx.Err(err))
			}
		}
	}
}

func (w *Writer) flush() {
	for {
		select {
		case line := <-w.queue:
			if err := w.write(line); err != nil {
				w.log.Debug("console flush failed", logx.Err(err))
				return
			}
		default:
			return
		}
	}
}

func (w *Writer) write(line string) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()

	w.mu.Lock()
	out, err := w.writer()
	w.mu.Unlock()
	if err != nil {
		return err
	}
	if _, err := io.WriteString(out, line+"\n"); err != nil {
		w.mu.Lock()
		w.closeFile()
		w.mu.Unlock()
		return fmt.Errorf("console: write %s: %w", w.target, err)
	}
	return nil
}

func (w *Writer) writer() (io.Writer, error) {
	if w.w != nil {
		return w.w, nil
	}
	switch w.target {
	case "", "stdout":
		w.w = os.Stdout
	case "stderr":
		w.w = os.Stderr
	default:
		f, err := os.OpenFile(w.target, os.O_WRONLY|os.O_APPEND|os.O_CREATE|syscall.O_NONBLOCK, 0o644)
		if errors.Is(err, syscall.ENXIO) {
			return nil, fmt.Errorf("console: open %s: no reader on fifo", w.target)
		}
		if err != nil {
			return nil, fmt.Errorf("console: open %s: %w", w.target, err)
		}
		w.f = f
		w.w = f
		w.log.Debug("console output opened", logx.String("path", w.target))
	}
	return w.w, nil
}

func (w *Writer) setDeadline(t time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f != nil {
		// regular files report ErrNoDeadline; only pipes honour it
		_ = w.f.SetWriteDeadline(t)
	}
}

func (w *Writer) closeFile() {
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		w.w = nil
	}
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeFile()
	return nil
}

// Reader feeds operator lines to a handler.
type Reader struct {
	in  io.Reader
	log logx.Logger
}

func NewReader(in io.Reader, log logx.Logger) *Reader {
	return &Reader{in: in, log: log}
}

// Run calls handle for every non-empty line until EOF or ctx is done.
// Lines starting with '#' are ignored.
func (r *Reader) Run(ctx context.Context, handle func(ctx context.Context, line string)) error {
	lines := make(chan string)
	errCh := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errCh <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("console: read: %w", err)
			}
			r.log.Debug("console input closed")
			return nil
		case line := <-lines:
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			handle(ctx, line)
		}
	}
}
