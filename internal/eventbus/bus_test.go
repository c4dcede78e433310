package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(2)
	defer unsubC()

	b.Publish(Event{Type: CountdownStarted, Data: Countdown{Title: "restart", Seconds: 60, Duration: 60}})

	ev := <-a
	assert.Equal(t, CountdownStarted, ev.Type)
	assert.False(t, ev.Time.IsZero())
	assert.Equal(t, "restart", ev.Data.(Countdown).Title)
	assert.Equal(t, CountdownStarted, (<-c).Type)

	unsubA()
	unsubA()
	_, ok := <-a
	assert.False(t, ok)
	b.Publish(Event{Type: CountdownFinished})
	assert.Equal(t, CountdownFinished, (<-c).Type)
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: CountdownStarted})
	b.Publish(Event{Type: CountdownRevised})
	require.Len(t, ch, 1)
	assert.Equal(t, CountdownStarted, (<-ch).Type)
}

func TestNop(t *testing.T) {
	t.Parallel()
	b := Nop()
	b.Publish(Event{Type: CountdownStarted})
	ch, unsub := b.Subscribe(1)
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
}
