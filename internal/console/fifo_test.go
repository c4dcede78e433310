//go:build linux || darwin

package console

import (
	"bufio"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerdalert/internal/display"
	"nerdalert/internal/ticker"
	logx "nerdalert/pkg/logx"
)

func mkfifo(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "server.fifo")
	require.NoError(t, syscall.Mkfifo(p, 0o600))
	return p
}

func TestFIFOWithoutReaderDoesNotStallTicks(t *testing.T) {
	t.Parallel()
	w := NewWriter(mkfifo(t), logx.Nop())
	stop := runWriter(t, w)
	defer stop()

	sink := display.NewConsole(w, logx.Nop())
	loop := ticker.New(20)
	loop.SchedulePeriodic(func() {
		sink.SetTiming(10, 70, 20)
		sink.SetTitle("&cRestart")
		sink.SetSubtitle("in 5 seconds")
	}, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			loop.Tick()
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ticks stalled on console output")
	}
}

func TestFIFODeliversOnceReaderAttaches(t *testing.T) {
	t.Parallel()
	p := mkfifo(t)
	// O_RDWR keeps the open from waiting for a writer
	r, err := os.OpenFile(p, os.O_RDWR, 0)
	require.NoError(t, err)
	defer r.Close()

	w := NewWriter(p, logx.Nop())
	stop := runWriter(t, w)
	defer stop()
	require.NoError(t, w.Dispatch("title @a times 10 70 20"))

	lines := make(chan string, 1)
	go func() {
		sc := bufio.NewScanner(r)
		if sc.Scan() {
			lines <- sc.Text()
		}
	}()
	select {
	case l := <-lines:
		assert.Equal(t, "title @a times 10 70 20", l)
	case <-time.After(2 * time.Second):
		t.Fatal("line never arrived")
	}
}
