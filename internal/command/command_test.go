package command

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerdalert/internal/alert"
	"nerdalert/internal/config"
	"nerdalert/internal/display"
	"nerdalert/internal/storage"
	"nerdalert/internal/ticker"
	logx "nerdalert/pkg/logx"
)

type inlineLoop struct{}

func (inlineLoop) Call(ctx context.Context, fn func()) error { fn(); return nil }

type texts []string

func (t *texts) Broadcast(ctx context.Context, s string) error { *t = append(*t, s); return nil }

func TestTokenize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"  event   restart 5 minutes ", []string{"event", "restart", "5", "minutes"}},
		{"event maintenance don't log in", []string{"event", "maintenance", "don't", "log", "in"}},
		{`event say " hi`, []string{"event", "say", `"`, "hi"}},
		{`event a\ b`, []string{"event", `a\`, "b"}},
		{"event\trestart\n5", []string{"event", "restart", "5"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Tokenize(tt.in), tt.in)
	}
}

func TestParseEvent(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		args    []string
		seconds int
		errIs   error
	}{
		{name: "seconds", args: []string{"restart", "45", "seconds"}, seconds: 45},
		{name: "minutes", args: []string{"restart", "5", "minutes"}, seconds: 300},
		{name: "minute prefix", args: []string{"restart", "1", "Minute(s)"}, seconds: 60},
		{name: "hours", args: []string{"shutdown", "2", "HOURS"}, seconds: 7200},
		{name: "key only", args: []string{"restart"}},
		{name: "two args", args: []string{"restart", "5"}},
		{name: "four args", args: []string{"restart", "5", "minutes", "sharp"}},
		{name: "bad number", args: []string{"restart", "five", "minutes"}, errIs: ErrBadNumber},
		{name: "bad unit", args: []string{"restart", "5", "days"}, errIs: ErrUnknownUnit},
		{name: "short unit", args: []string{"restart", "5", "min"}, errIs: ErrUnknownUnit},
		{name: "negative", args: []string{"restart", "-5", "minutes"}, errIs: ErrNegativeAmount},
		{name: "overflow", args: []string{"restart", "99999999999", "seconds"}, errIs: ErrBadNumber},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ev, err := ParseEvent(tt.args)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.args[0], ev.Key)
			assert.Equal(t, tt.seconds, ev.Seconds)
			assert.Equal(t, tt.args[1:], ev.Args)
		})
	}

	_, err := ParseEvent(nil)
	assert.ErrorIs(t, err, ErrUsage)
}

type fixture struct {
	d     *Dispatcher
	loop  *ticker.Loop
	sink  *display.Recorder
	bc    *texts
	co    *alert.Coordinator
	store storage.Store
}

func newFixture(t *testing.T, reload func(ctx context.Context) ([]string, error)) *fixture {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := &fixture{loop: ticker.New(20), sink: &display.Recorder{}, bc: &texts{}, store: st}
	conf := alert.NewConfiguration(config.EventConfig{Messages: map[string]config.EventMessages{
		"restart": {Broadcast: "&eRestart in %s %s", Title: "&cRestart"},
	}})
	f.co = alert.NewCoordinator(conf, f.loop, f.sink, alert.WithClock(clockwork.NewFakeClock()), alert.WithBroadcaster(f.bc))
	f.d = NewDispatcher("nerdalert", st, logx.Nop())
	require.NoError(t, RegisterBuiltins(f.d, Deps{Loop: inlineLoop{}, Coordinator: f.co, Reload: reload, Store: st}))
	return f
}

func TestDispatchEventShapes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	for _, line := range []string{
		"nerdalert event restart 5 minutes",
		"event restart 5 minutes",
		"/event restart 5 minutes",
		"/event@nerd_bot restart 5 minutes",
		"NerdAlert EVENT restart 5 minutes",
	} {
		f := newFixture(t, nil)
		reply, err := f.d.Dispatch(ctx, SourceConsole, "console", true, line)
		require.NoError(t, err, line)
		assert.Contains(t, reply, "countdown started", line)
		assert.Equal(t, texts{"&eRestart in 5 minutes"}, *f.bc, line)
		assert.Equal(t, 300, f.co.Status().Duration, line)
	}
}

func TestDispatchErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.d.Dispatch(ctx, SourceConsole, "console", true, "  ")
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = f.d.Dispatch(ctx, SourceConsole, "console", true, "nerdalert")
	assert.ErrorIs(t, err, ErrEmpty)
	_, err = f.d.Dispatch(ctx, SourceConsole, "console", true, "explode now")
	assert.ErrorIs(t, err, ErrUnknownCommand)
	_, err = f.d.Dispatch(ctx, SourceConsole, "console", true, "event")
	assert.ErrorIs(t, err, ErrUsage)
	_, err = f.d.Dispatch(ctx, SourceTelegram, "42", false, "/event restart 1 minute")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, f.co.Status().Active)

	reply, err := f.d.Dispatch(ctx, SourceTelegram, "42", false, "/status")
	require.NoError(t, err)
	assert.Equal(t, "no countdown", reply)
}

func TestDispatchBadNumberStillAnnounces(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	reply, err := f.d.Dispatch(context.Background(), SourceConsole, "console", true, "event restart soon minutes")
	require.NoError(t, err)
	assert.Contains(t, reply, "countdown started")
	assert.Equal(t, 0, f.co.Status().Duration)
	assert.Equal(t, texts{"&eRestart in soon minutes"}, *f.bc)
}

func TestDispatchKeepsApostrophes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	_, err := f.d.Dispatch(context.Background(), SourceConsole, "console", true, "event restart don't wait")
	require.NoError(t, err)
	assert.Equal(t, texts{"&eRestart in don't wait"}, *f.bc)
	assert.Equal(t, 0, f.co.Status().Duration)
}

func TestDispatchCancelAndAudit(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.d.Dispatch(ctx, SourceSchedule, "nightly", true, "event restart 10 minutes")
	require.NoError(t, err)
	reply, err := f.d.Dispatch(ctx, SourceConsole, "console", true, "event cancel")
	require.NoError(t, err)
	assert.Contains(t, reply, "countdown cancelled")
	assert.Equal(t, 0, f.loop.Active())

	reply, err = f.d.Dispatch(ctx, SourceConsole, "console", true, "event cancel")
	require.NoError(t, err)
	assert.Contains(t, reply, "no countdown to cancel")

	entries, err := f.store.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "cancel", entries[0].Target)
	assert.Equal(t, "none", entries[0].Outcome)
	assert.Equal(t, "cancelled", entries[1].Outcome)
	assert.Equal(t, "schedule", entries[2].Source)
	assert.Equal(t, "nightly", entries[2].Actor)
	assert.Equal(t, 600, entries[2].Seconds)

	hist, err := f.d.Dispatch(ctx, SourceConsole, "console", true, "history 2")
	require.NoError(t, err)
	assert.Contains(t, hist, "console/console event cancel -> none")
}

func TestDispatchReload(t *testing.T) {
	t.Parallel()
	results := []struct {
		changed []string
		err     error
	}{
		{changed: []string{"event"}},
		{},
		{err: errors.New("event.title.seconds: failed")},
	}
	i := 0
	f := newFixture(t, func(ctx context.Context) ([]string, error) {
		r := results[i]
		i++
		return r.changed, r.err
	})
	ctx := context.Background()

	reply, err := f.d.Dispatch(ctx, SourceConsole, "console", true, "reload")
	require.NoError(t, err)
	assert.Equal(t, "config reloaded: event", reply)

	reply, err = f.d.Dispatch(ctx, SourceConsole, "console", true, "nerdalert reload")
	require.NoError(t, err)
	assert.Equal(t, "config unchanged", reply)

	_, err = f.d.Dispatch(ctx, SourceConsole, "console", true, "reload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "keeping previous")
}

func TestHelpHidesPrivileged(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	pub, err := f.d.Dispatch(context.Background(), SourceTelegram, "1", false, "/start")
	require.NoError(t, err)
	assert.NotContains(t, pub, "event <key>")
	assert.Contains(t, pub, "status")
	assert.Contains(t, f.d.Help(true), "event <key>")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("", nil, logx.Nop())
	h := func(ctx context.Context, req *Request) (string, error) { return "", nil }
	require.NoError(t, d.Register(Command{Name: "ping", Handle: h}))
	assert.Error(t, d.Register(Command{Name: "PING", Handle: h}))
	assert.Error(t, d.Register(Command{Name: "pong", Aliases: []string{"ping"}, Handle: h}))
	assert.Error(t, d.Register(Command{Name: "", Handle: h}))
}

func TestPanicRecovered(t *testing.T) {
	t.Parallel()
	d := NewDispatcher("", nil, logx.Nop())
	require.NoError(t, d.Register(Command{Name: "boom", Handle: func(ctx context.Context, req *Request) (string, error) {
		panic("kaboom")
	}}))
	_, err := d.Dispatch(context.Background(), SourceConsole, "console", true, "boom")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}
