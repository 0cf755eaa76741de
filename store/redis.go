package store

import (
	"context"
	"path"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// The redis store implements the Store interface using Redis as the
// backend, letting cached tool results survive process restarts and be
// shared between instances. Keys are namespaced as
// `/<prefix>/toolcache/<key>`; expiry is delegated to Redis TTLs.

type redisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a Store backed by the given Redis client. The
// prefix isolates this instance's keys from other users of the database.
func NewRedisStore(client *redis.Client, prefix string) Store {
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (m *redisStore) key(key string) string {
	return path.Join(m.prefix, "toolcache", key)
}

func (m *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := m.client.Get(ctx, m.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, errors.Wrap(err, "failed to get value from Redis")
	}
	return data, true, nil
}

func (m *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	err := m.client.Set(ctx, m.key(key), value, ttl).Err()
	if err != nil {
		return errors.Wrap(err, "failed to store value in Redis")
	}
	return nil
}

func (m *redisStore) Delete(ctx context.Context, key string) error {
	err := m.client.Del(ctx, m.key(key)).Err()
	if err != nil {
		return errors.Wrap(err, "failed to delete value from Redis")
	}
	return nil
}
