package oauth2

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"bedsync/internal/common/errors"
	"bedsync/internal/redis"
)

// RedisInterface is the subset of the Redis client the token store uses.
type RedisInterface interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DefaultRedisKey holds the credential record.
const DefaultRedisKey = "bedsync:oauth2:token"

// RedisTokenStorage stores the record under a single key. SET replaces the
// value atomically. No TTL is applied: an evicted record would silently
// log the account out.
type RedisTokenStorage struct {
	client RedisInterface
	key    string
}

func NewRedisTokenStorage(client RedisInterface) *RedisTokenStorage {
	return &RedisTokenStorage{client: client, key: DefaultRedisKey}
}

func (s *RedisTokenStorage) LoadToken(ctx context.Context) (*Token, error) {
	data, err := s.client.Get(ctx, s.key)
	if stderrors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.PersistenceError("failed to load token from redis", err)
	}
	if data == "" {
		return nil, nil
	}
	return decodeToken([]byte(data))
}

func (s *RedisTokenStorage) SaveToken(ctx context.Context, token *Token) error {
	if err := token.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(token)
	if err != nil {
		return errors.PersistenceError("failed to serialize token", err)
	}
	if err := s.client.Set(ctx, s.key, string(data), 0); err != nil {
		return errors.PersistenceError("failed to save token to redis", err)
	}
	return nil
}
