// Package events provides the fire-and-forget notification primitive the
// runtime uses for module-loaded and global-error signals.
//
// Publishing never fails and never blocks on a subscriber's outcome: each
// handler is fault-isolated, and a panicking subscriber is logged and
// skipped rather than propagated to the publisher.
package events

import (
	"context"
	"sync"

	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/module"
)

// Topics published by the runtime core.
const (
	TopicModuleLoaded = "module.loaded"
	TopicRuntimeError = "runtime.error"
)

// Event is one broadcast notification.
type Event struct {
	Topic    string
	Module   string
	Phase    module.Phase
	Attempts int
	Err      error
}

// Handler consumes one event. Handlers run on the publisher's goroutine.
type Handler func(ctx context.Context, ev Event)

// Bus is a minimal topic-keyed broadcast bus with zero-or-more subscribers
// per topic.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]Handler)}
}

// Subscribe registers a handler for a topic and returns its cancel func.
func (b *Bus) Subscribe(topic string, h Handler) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.next
	b.next++
	b.subs[topic][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Publish broadcasts an event to the topic's current subscribers.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[ev.Topic]))
	for _, h := range b.subs[ev.Topic] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.invoke(ctx, h, ev)
	}
}

func (b *Bus) invoke(ctx context.Context, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			ctxlog.FromContext(ctx).Error("Event subscriber panicked.", "topic", ev.Topic, "panic", r)
		}
	}()
	h(ctx, ev)
}
