// Package events carries scheduler activity from runs to whoever is
// watching: the dashboard, tests, or nothing at all.
package events

import (
	"sync"
	"sync/atomic"
)

const defaultBuffer = 256

// subscriber receives the events that match its filter. Empty fields match
// everything.
type subscriber struct {
	ch       chan Event
	topic    string
	workflow string
}

func (s *subscriber) matches(topic string, ev Event) bool {
	if s.topic != "" && s.topic != topic {
		return false
	}
	return s.workflow == "" || s.workflow == ev.WorkflowID()
}

// EventBus is a channel-based pub-sub bus for workflow activity. Publishing
// never blocks: a subscriber whose buffer is full misses the event.
type EventBus struct {
	mu      sync.RWMutex
	subs    []*subscriber
	closed  bool
	dropped atomic.Uint64
}

// NewEventBus creates a new event bus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe returns a channel of every event published to topic.
// bufSize <= 0 means 256.
func (b *EventBus) Subscribe(topic string, bufSize int) <-chan Event {
	return b.subscribe(&subscriber{topic: topic}, bufSize)
}

// SubscribeAll returns a channel of every event on every topic.
func (b *EventBus) SubscribeAll(bufSize int) <-chan Event {
	return b.subscribe(&subscriber{}, bufSize)
}

// SubscribeWorkflow returns a channel of every event, on any topic, about
// one workflow.
func (b *EventBus) SubscribeWorkflow(workflowID string, bufSize int) <-chan Event {
	return b.subscribe(&subscriber{workflow: workflowID}, bufSize)
}

func (b *EventBus) subscribe(s *subscriber, bufSize int) <-chan Event {
	if bufSize <= 0 {
		bufSize = defaultBuffer
	}
	s.ch = make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s.ch
	}
	b.subs = append(b.subs, s)
	return s.ch
}

// Publish delivers event to every matching subscriber. Publishing on a nil
// or closed bus is a no-op.
func (b *EventBus) Publish(topic string, event Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, s := range b.subs {
		if !s.matches(topic, event) {
			continue
		}
		select {
		case s.ch <- event:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber's
// buffer was full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. It is safe to call more than once.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
	b.subs = nil
}
