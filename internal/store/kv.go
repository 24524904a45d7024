// Package store implements the persistence adapter: a thin, circuit
// breaker guarded key-value layer over Redis used to checkpoint room
// snapshots.
package store

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/collabrelay/relay/internal/logging"
)

// Store loads and saves room snapshots. Every call is wrapped in a
// circuit breaker so that a degraded Redis never blocks a room's event
// loop; on an open breaker, loads behave as "no snapshot" and saves are
// dropped, favoring availability over durability.
type Store struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
}

// New connects to the Redis instance addressed by redisURL (a
// redis://[:password@]host:port/db URL).
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: ping redis: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store.redis",
		MaxRequests: 5,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn(context.Background(), "circuit breaker state change")
		},
	})

	return &Store{client: client, cb: cb}, nil
}

func snapshotKey(roomID string) string {
	return fmt.Sprintf("room:%s:state", roomID)
}

// LoadSnapshot returns the last saved snapshot for a room. The bool is
// false when no snapshot exists (a fresh room) or the breaker is open.
func (s *Store) LoadSnapshot(ctx context.Context, roomID string) ([]byte, bool, error) {
	result, err := s.cb.Execute(func() (interface{}, error) {
		return s.client.Get(ctx, snapshotKey(roomID)).Result()
	})
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		if err == gobreaker.ErrOpenState {
			logging.Warn(ctx, "store: breaker open, treating load as miss")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: load snapshot: %w", err)
	}

	encoded := result.(string)
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, false, fmt.Errorf("store: decode snapshot: %w", err)
	}
	return raw, true, nil
}

// SaveSnapshot persists a room's encoded state. On an open breaker the
// save is skipped with a warning log rather than propagated as an error, so a
// stalled Redis never blocks the room's event loop.
func (s *Store) SaveSnapshot(ctx context.Context, roomID string, state []byte) error {
	encoded := base64.StdEncoding.EncodeToString(state)
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Set(ctx, snapshotKey(roomID), encoded, 0).Err()
	})
	if err == gobreaker.ErrOpenState {
		logging.Warn(ctx, "store: breaker open, dropping snapshot save")
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: save snapshot: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
