package messenger

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisMessenger backs Messenger with Redis's native pub/sub, for
// deployments where the indexer and the wire-protocol server run as
// separate processes and need a bus that crosses process boundaries.
type RedisMessenger struct {
	client *redis.Client
}

// NewRedisMessenger wraps an already-configured client.
func NewRedisMessenger(client *redis.Client) *RedisMessenger {
	return &RedisMessenger{client: client}
}

func (m *RedisMessenger) Publish(ctx context.Context, subject string, data []byte) error {
	if err := m.client.Publish(ctx, subject, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

func (m *RedisMessenger) Subscribe(ctx context.Context, subject string) (Subscription, error) {
	pubsub := m.client.Subscribe(ctx, subject)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	sub := &redisSubscription{pubsub: pubsub, ch: make(chan Message, 256)}
	go sub.pump(subject)
	return sub, nil
}

func (m *RedisMessenger) Close() error {
	return m.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan Message
}

func (s *redisSubscription) pump(subject string) {
	defer close(s.ch)
	for msg := range s.pubsub.Channel() {
		s.ch <- Message{Subject: subject, Data: []byte(msg.Payload)}
	}
}

func (s *redisSubscription) Messages() <-chan Message { return s.ch }

func (s *redisSubscription) Unsubscribe() error {
	return s.pubsub.Close()
}
