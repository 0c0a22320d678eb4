package hub

import (
	"context"

	"handshake/sharedstore"

	"github.com/redis/go-redis/v9"
)

// RedisFanout adapts sharedstore.Adapter's pub/sub to the Hub's narrow
// Fanout interface.
type RedisFanout struct {
	store *sharedstore.Adapter
}

func NewRedisFanout(store *sharedstore.Adapter) *RedisFanout {
	return &RedisFanout{store: store}
}

func (f *RedisFanout) Publish(ctx context.Context, channel string, payload []byte) error {
	return f.store.Publish(ctx, channel, payload)
}

func (f *RedisFanout) Subscribe(ctx context.Context, channel string) Subscription {
	pubsub := f.store.Subscribe(ctx, channel)
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()
	return &redisSubscription{pubsub: pubsub, out: out}
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
}

func (s *redisSubscription) Receive() <-chan []byte { return s.out }
func (s *redisSubscription) Close() error           { return s.pubsub.Close() }
