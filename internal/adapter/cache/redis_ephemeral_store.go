package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
)

// RedisEphemeralStore implements repository.EphemeralStore backed by Redis.
type RedisEphemeralStore struct {
	client redis.UniversalClient
}

var _ repository.EphemeralStore = (*RedisEphemeralStore)(nil)

// NewRedisEphemeralStore constructs a Redis-backed ephemeral store.
func NewRedisEphemeralStore(client redis.UniversalClient) *RedisEphemeralStore {
	return &RedisEphemeralStore{client: client}
}

// Put stores the JSON encoded value under key with ttl.
func (s *RedisEphemeralStore) Put(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal ephemeral value: %w", err)
	}
	if err := s.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist ephemeral value: %w", err)
	}
	return nil
}

// Consume reads and deletes key in one GETDEL round trip.
func (s *RedisEphemeralStore) Consume(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("consume ephemeral value: %w", err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode ephemeral value: %w", err)
	}
	return true, nil
}
