// Package events carries the publish-on-mutation contract. The node service
// publishes an event after every successful write; collaborators
// (indexers, webhooks) subscribe. Delivery is best-effort and in-process by
// default — nothing in the repository layer depends on it.
package events

import (
	"context"
	"sync"
)

// Event types published by the node service.
const (
	NodeCreated = "node.created"
	NodeUpdated = "node.updated"
	NodeDeleted = "node.deleted"
)

// Event describes one node mutation.
type Event struct {
	Type     string `json:"type"`
	NodeUUID string `json:"nodeUuid"`
	Mimetype string `json:"mimetype"`
	At       string `json:"at"`
}

// Handler consumes events. Handlers must not block; slow consumers should
// queue internally.
type Handler func(ctx context.Context, e Event)

// Bus is the event bus contract.
type Bus interface {
	Publish(ctx context.Context, e Event)
	Subscribe(h Handler)
}

// NewBus returns the in-process bus.
func NewBus() Bus {
	return &inProcessBus{}
}

type inProcessBus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func (b *inProcessBus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, e)
	}
}

func (b *inProcessBus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}
