package console

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "nerdalert/pkg/logx"
)

func TestWriterTo(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	w := NewWriterTo(&buf)
	require.NoError(t, w.Dispatch("title @a times 10 70 20\n"))
	require.NoError(t, w.Dispatch(`tellraw @a {"text":"hi"}`))
	assert.Equal(t, "title @a times 10 70 20\ntellraw @a {\"text\":\"hi\"}\n", buf.String())

	assert.Error(t, w.Dispatch("say a\nop me"))
}

func runWriter(t *testing.T, w *Writer) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("writer did not stop")
		}
	}
}

func TestWriterPath(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "server.in")
	w := NewWriter(p, logx.Nop())
	stop := runWriter(t, w)
	require.NoError(t, w.Dispatch("title @a title {\"text\":\"x\"}"))
	require.NoError(t, w.Dispatch("title @a clear"))
	stop()

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "title @a title {\"text\":\"x\"}\ntitle @a clear\n", string(b))
}

func TestWriterQueueFullDoesNotBlock(t *testing.T) {
	t.Parallel()
	w := NewWriter(filepath.Join(t.TempDir(), "server.in"), logx.Nop())
	// nothing drains the queue
	for i := 0; i < queueSize; i++ {
		require.NoError(t, w.Dispatch("say hi"))
	}
	assert.ErrorIs(t, w.Dispatch("say hi"), ErrQueueFull)
	assert.Equal(t, uint64(1), w.Dropped())
}

func TestReaderSkipsBlankAndComments(t *testing.T) {
	t.Parallel()
	in := strings.NewReader("event restart 5 minutes\n\n  # note\n  reload  \n")
	r := NewReader(in, logx.Nop())
	var got []string
	require.NoError(t, r.Run(context.Background(), func(ctx context.Context, line string) {
		got = append(got, line)
	}))
	assert.Equal(t, []string{"event restart 5 minutes", "reload"}, got)
}
