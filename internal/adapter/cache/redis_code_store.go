package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Choi-Seunghwan/IdP-server/internal/domain"
	"github.com/Choi-Seunghwan/IdP-server/internal/repository"
)

const codeKeyPrefix = "auth_code:"

// RedisCodeStore implements repository.AuthorizationCodeRepository. Codes expire through
// Redis TTLs, so no purge job is needed.
type RedisCodeStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

var _ repository.AuthorizationCodeRepository = (*RedisCodeStore)(nil)

// NewRedisCodeStore constructs a Redis-backed authorization code store.
func NewRedisCodeStore(client redis.UniversalClient) *RedisCodeStore {
	return &RedisCodeStore{client: client, now: time.Now}
}

func codeKey(code string) string {
	return codeKeyPrefix + code
}

func (s *RedisCodeStore) Create(ctx context.Context, code domain.AuthorizationCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = s.now().UTC()
	}
	payload, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("marshal authorization code: %w", err)
	}
	ok, err := s.client.SetNX(ctx, codeKey(code.Code), payload, repository.CodeTTL(code.ExpiresAt, s.now())).Result()
	if err != nil {
		return fmt.Errorf("persist authorization code: %w", err)
	}
	if !ok {
		return repository.ErrDuplicate
	}
	return nil
}

func (s *RedisCodeStore) FindByCode(ctx context.Context, code string) (domain.AuthorizationCode, error) {
	raw, err := s.client.Get(ctx, codeKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.AuthorizationCode{}, repository.ErrNotFound
		}
		return domain.AuthorizationCode{}, fmt.Errorf("load authorization code: %w", err)
	}
	var out domain.AuthorizationCode
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.AuthorizationCode{}, fmt.Errorf("decode authorization code: %w", err)
	}
	return out, nil
}

// MarkAsUsed deletes the key. Only the caller whose DEL removed it wins.
func (s *RedisCodeStore) MarkAsUsed(ctx context.Context, code string) error {
	n, err := s.client.Del(ctx, codeKey(code)).Result()
	if err != nil {
		return fmt.Errorf("consume authorization code: %w", err)
	}
	if n != 1 {
		return repository.ErrCodeUsed
	}
	return nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, code string) error {
	if err := s.client.Del(ctx, codeKey(code)).Err(); err != nil {
		return fmt.Errorf("delete authorization code: %w", err)
	}
	return nil
}
