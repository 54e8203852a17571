/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	EventDeployed     EventType = "gcl.deployed"
	EventPartial      EventType = "gcl.partial"
	EventRolledBack   EventType = "gcl.rolled_back"
	EventConfigError  EventType = "gcl.config_error"
	EventCycleFailed  EventType = "gcl.cycle_failed"
	EventLeaderChange EventType = "gcl.leader_change"
)

// Types lists every event type the controller publishes.
func Types() []EventType {
	return []EventType{EventDeployed, EventPartial, EventRolledBack, EventConfigError, EventCycleFailed, EventLeaderChange}
}

// Publisher is satisfied by every bus implementation.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Payload is a flat JSON-friendly event body.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 8)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	b.subs[eventType] = subs
	close(sub)
}
