package services

import (
	"context"
	"sync"

	"clanhall/src/models"
)

// EventHandler consumes clan events published on an EventBus.
type EventHandler interface {
	HandleClanEvent(ctx context.Context, event models.ClanEvent)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event models.ClanEvent)

func (f EventHandlerFunc) HandleClanEvent(ctx context.Context, event models.ClanEvent) {
	f(ctx, event)
}

// EventBus delivers clan events to subscribers synchronously, in
// subscription order. Handlers must not block.
type EventBus struct {
	mu       sync.RWMutex
	handlers []EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) Subscribe(h EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *EventBus) Publish(ctx context.Context, event models.ClanEvent) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]EventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h.HandleClanEvent(ctx, event)
	}
}
