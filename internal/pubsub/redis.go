package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisBroker publishes on chat:{kind}:{id} and pattern-subscribes to chat:*,
// so every instance sees every event and delivers to its own sockets.
type RedisBroker struct {
	rdb *redis.Client
	log *slog.Logger
}

func NewRedisBroker(rdb *redis.Client, log *slog.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, log: log}
}

func (b *RedisBroker) Publish(ctx context.Context, topic Topic, payload []byte) error {
	if err := b.rdb.Publish(ctx, topic.Channel(), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic.Channel(), err)
	}
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, handler Handler) error {
	sub := b.rdb.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic, ok := ParseChannel(msg.Channel)
			if !ok {
				b.log.Warn("ignoring event on unknown channel", "channel", msg.Channel)
				continue
			}
			handler(topic, []byte(msg.Payload))
		}
	}
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}
