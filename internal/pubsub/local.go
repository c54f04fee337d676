package pubsub

import (
	"context"
	"sync"
)

// LocalBroker delivers in process, for single-instance deployments and tests.
type LocalBroker struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{handlers: make(map[int]Handler)}
}

func (b *LocalBroker) Publish(ctx context.Context, topic Topic, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(topic, payload)
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
	return nil
}

func (b *LocalBroker) Ping(ctx context.Context) error { return nil }

func (b *LocalBroker) Close() error { return nil }
