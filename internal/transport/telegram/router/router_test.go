package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nerdalert/internal/command"
	kit "nerdalert/internal/transport"
	logx "nerdalert/pkg/logx"
)

type sentText struct {
	to   kit.ChatTarget
	text string
	opt  kit.SendOptions
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sentText
	menu []kit.BotCommand
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{to: to, text: text, opt: *opt})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.menu = cmds
	return nil
}

func (f *fakeAdapter) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, s := range f.sent {
		out = append(out, s.text)
	}
	return out
}

func newDispatcher(t *testing.T) *command.Dispatcher {
	t.Helper()
	d := command.NewDispatcher("nerdalert", nil, logx.Nop())
	require.NoError(t, d.Register(command.Command{
		Name:        "ping",
		Description: "pong",
		Handle: func(ctx context.Context, req *command.Request) (string, error) {
			return "pong " + req.Actor, nil
		},
	}))
	require.NoError(t, d.Register(command.Command{
		Name:        "event",
		Description: "announce",
		Privileged:  true,
		Handle: func(ctx context.Context, req *command.Request) (string, error) {
			return "announced", nil
		},
	}))
	return d
}

func TestRouterRepliesAndChecksOwners(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	r := New(logx.Nop(), ad, newDispatcher(t), []int64{7})

	updates := make(chan kit.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx, updates)
	}()

	msg := func(id int, from int64, text string) kit.Update {
		return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ID: id, ChatID: 100, FromID: from, FromUsername: "op", Text: text}}
	}
	updates <- msg(1, 7, "/ping")
	updates <- msg(2, 9, "/event restart 5 minutes")
	updates <- msg(3, 7, "/event@nerd_bot restart 5 minutes")
	updates <- msg(4, 7, "just chatting")
	updates <- msg(5, 7, "/nope")

	require.Eventually(t, func() bool { return len(ad.texts()) == 4 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.ElementsMatch(t, []string{
		"pong 7@op",
		"unauthorized",
		"announced",
		"unknown command. try /help",
	}, ad.texts())
	for _, s := range ad.sent {
		assert.Equal(t, int64(100), s.to.ChatID)
		assert.NotZero(t, s.opt.ReplyTo)
	}
}

func TestSetOwners(t *testing.T) {
	t.Parallel()
	r := New(logx.Nop(), &fakeAdapter{}, nil, []int64{1})
	assert.True(t, r.isOwner(1))
	r.SetOwners([]int64{2})
	assert.False(t, r.isOwner(1))
	assert.True(t, r.isOwner(2))
}

func TestUpdateMenu(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	d := newDispatcher(t)
	r := New(logx.Nop(), ad, d, nil)
	require.NoError(t, r.UpdateMenu(context.Background(), d.Commands()))
	assert.Equal(t, []kit.BotCommand{
		{Command: "event", Description: "🔒 announce"},
		{Command: "ping", Description: "pong"},
	}, ad.menu)
}

func TestSanitizeTelegramCommand(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"Status":                                "status",
		"restart-warn":                          "restart_warn",
		"a  b":                                  "a_b",
		"9lives":                                "cmd_9lives",
		"!!!":                                   "",
		"x_very_long_command_name_that_goes_on": "x_very_long_command_name_that_go",
	}
	for in, want := range tests {
		assert.Equal(t, want, sanitizeTelegramCommand(in), in)
	}
}
