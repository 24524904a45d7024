// Package bus implements the cross-instance pub/sub adapter used to
// fan updates out to every relay instance that holds a copy of a room.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/collabrelay/relay/internal/logging"
)

// Handler processes one inbound bus message on the channel it arrived
// on.
type Handler func(channel string, payload []byte)

// Bus publishes and subscribes to Redis channels, wrapped in a circuit
// breaker so a degraded broker never blocks a room's event loop.
type Bus struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// New connects to the Redis instance addressed by redisURL.
func New(redisURL string) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("bus: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: ping redis: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "bus.redis",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
	})

	return &Bus{client: client, cb: cb}, nil
}

// Publish broadcasts payload on channel. On an open breaker the publish
// is dropped (logged) rather than propagated — other instances simply
// miss this update over the bus; the originating instance's own local
// clients already saw it directly.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.Publish(ctx, channel, payload).Err()
	})
	if err == gobreaker.ErrOpenState {
		logging.Warn(ctx, "bus: breaker open, dropping publish")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bus: publish: %w", err)
	}
	return nil
}

// SubscribePattern subscribes to every channel matching pattern (e.g.
// "room:*") and invokes handler for each message received, until ctx is
// canceled. It waits for the broker to confirm the subscription, then
// spawns its own delivery goroutine and returns.
func (b *Bus) SubscribePattern(ctx context.Context, pattern string, handler Handler) error {
	pubsub := b.client.PSubscribe(ctx, pattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("bus: subscribe %s: %w", pattern, err)
	}

	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Channel, []byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Close releases the underlying Redis connection.
func (b *Bus) Close() error {
	return b.client.Close()
}
