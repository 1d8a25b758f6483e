// Package bus fans gateway events out to independent subscribers.
package bus

import (
	"sync"

	"github.com/broadcastio/wagateway/pkg/events"
)

// Subscriber is a named tap on an event stream. Multiple subscribers
// independently receive every published event (fan-out).
type Subscriber struct {
	Name string
	ch   chan events.Event
}

// MessageBus carries two streams: system events (session lifecycle, health)
// and outbound message events. Publishing never blocks; a subscriber whose
// buffer is full misses the event.
type MessageBus struct {
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once

	systemSubs   []*Subscriber
	outboundSubs []*Subscriber
}

func NewMessageBus() *MessageBus {
	return &MessageBus{}
}

// SubscribeSystem creates a named subscriber for system events.
func (mb *MessageBus) SubscribeSystem(name string) <-chan events.Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan events.Event, 64)}
	if mb.closed {
		close(sub.ch)
		return sub.ch
	}
	mb.systemSubs = append(mb.systemSubs, sub)
	return sub.ch
}

// SubscribeOutboundTap creates a named subscriber for outbound message events.
func (mb *MessageBus) SubscribeOutboundTap(name string) <-chan events.Event {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	sub := &Subscriber{Name: name, ch: make(chan events.Event, 64)}
	if mb.closed {
		close(sub.ch)
		return sub.ch
	}
	mb.outboundSubs = append(mb.outboundSubs, sub)
	return sub.ch
}

// PublishSystem publishes a system event to all system subscribers.
func (mb *MessageBus) PublishSystem(event events.Event) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	fanOut(mb.systemSubs, event)
}

// PublishOutbound publishes a message event to all outbound taps.
func (mb *MessageBus) PublishOutbound(event events.Event) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return
	}
	fanOut(mb.outboundSubs, event)
}

func fanOut(subs []*Subscriber, event events.Event) {
	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default: // drop if slow
		}
	}
}

// Close closes every subscriber channel. Later publishes are ignored.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		mb.mu.Lock()
		defer mb.mu.Unlock()
		mb.closed = true
		for _, sub := range mb.systemSubs {
			close(sub.ch)
		}
		for _, sub := range mb.outboundSubs {
			close(sub.ch)
		}
	})
}
