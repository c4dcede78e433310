// Package broadcast delivers chat announcements to players and, optionally,
// mirrors them to Telegram chats.
package broadcast

import (
	"context"
	"errors"
	"fmt"

	"nerdalert/internal/display"
	"nerdalert/pkg/chatfmt"
)

// Broadcaster sends one chat message to every connected player.
type Broadcaster interface {
	Broadcast(ctx context.Context, text string) error
}

// Console broadcasts through the server console:
//
//	tellraw @a {"text":"§eServer restart in 5 minutes"}
type Console struct {
	out    display.Dispatcher
	target string
}

func NewConsole(out display.Dispatcher) *Console {
	return &Console{out: out, target: "@a"}
}

func (c *Console) Broadcast(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line := fmt.Sprintf("tellraw %s %s", c.target, chatfmt.TextComponent(chatfmt.TranslateColors('&', text)))
	return c.out.Dispatch(line)
}

// Multi fans a message out to every broadcaster and joins their errors.
type Multi []Broadcaster

func (m Multi) Broadcast(ctx context.Context, text string) error {
	var errs []error
	for _, b := range m {
		if b == nil {
			continue
		}
		if err := b.Broadcast(ctx, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
