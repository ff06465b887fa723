package pipeline

import (
	"sync"
	"time"
)

// PhaseEvent describes one controller phase transition
type PhaseEvent struct {
	SessionID string    `json:"session_id"`
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EventBus provides pub/sub for phase transitions
type EventBus struct {
	subscribers map[*eventSubscription]bool
	mu          sync.RWMutex
}

type eventSubscription struct {
	sessionFilter string // Empty string means receive all sessions
	channel       chan *PhaseEvent
	handler       PhaseHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[*eventSubscription]bool),
	}
}

// Subscribe registers a handler for transitions of all sessions.
// Returns an unsubscribe function.
func (b *EventBus) Subscribe(handler PhaseHandler) func() {
	return b.add(&eventSubscription{handler: handler})
}

// SubscribeSession registers a handler for one session's transitions
func (b *EventBus) SubscribeSession(sessionID string, handler PhaseHandler) func() {
	return b.add(&eventSubscription{sessionFilter: sessionID, handler: handler})
}

// SubscribeChannel returns a buffered channel of transitions and an
// unsubscribe function that closes it
func (b *EventBus) SubscribeChannel(bufferSize int) (<-chan *PhaseEvent, func()) {
	if bufferSize <= 0 {
		bufferSize = 10
	}

	ch := make(chan *PhaseEvent, bufferSize)
	sub := &eventSubscription{channel: ch}

	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subscribers[sub]; ok {
			delete(b.subscribers, sub)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, unsubscribe
}

func (b *EventBus) add(sub *eventSubscription) func() {
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
	}
}

// Publish sends a transition to all subscribers. Handlers run synchronously
// so transitions are observed in order; full channels drop the event.
func (b *EventBus) Publish(event *PhaseEvent) {
	if event == nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		if sub.sessionFilter != "" && sub.sessionFilter != event.SessionID {
			continue
		}

		if sub.handler != nil {
			sub.handler.OnPhaseChange(event)
		} else if sub.channel != nil {
			select {
			case sub.channel <- event:
			default:
			}
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Close unsubscribes everyone and closes channels
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if sub.channel != nil {
			close(sub.channel)
		}
		delete(b.subscribers, sub)
	}
}

// PhaseHandlerFunc adapts a function to PhaseHandler
type PhaseHandlerFunc func(event *PhaseEvent)

func (f PhaseHandlerFunc) OnPhaseChange(event *PhaseEvent) {
	f(event)
}
