package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBusDelivery(t *testing.T) {
	bus := NewEventBus()

	var all, mine []*PhaseEvent
	unsubAll := bus.Subscribe(PhaseHandlerFunc(func(ev *PhaseEvent) { all = append(all, ev) }))
	bus.SubscribeSession("a", PhaseHandlerFunc(func(ev *PhaseEvent) { mine = append(mine, ev) }))
	ch, unsubCh := bus.SubscribeChannel(1)
	assert.Equal(t, 3, bus.SubscriberCount())

	bus.Publish(&PhaseEvent{SessionID: "a", From: PhaseIdle, To: PhaseStarting})
	bus.Publish(&PhaseEvent{SessionID: "b", From: PhaseIdle, To: PhaseStarting})
	bus.Publish(nil)

	assert.Len(t, all, 2)
	assert.Len(t, mine, 1)
	assert.Equal(t, "a", mine[0].SessionID)

	// buffer of one: the second event was dropped, not blocked on
	ev := <-ch
	assert.Equal(t, "a", ev.SessionID)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected buffered event %+v", ev)
	default:
	}

	unsubAll()
	unsubCh()
	unsubCh()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 1, bus.SubscriberCount())

	bus.Close()
	assert.Equal(t, 0, bus.SubscriberCount())
}
