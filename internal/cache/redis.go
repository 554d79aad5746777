package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// RedisStore implements Store using Redis string values.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisStore parses a redis:// URL and returns a store. retention defaults to
// DefaultRetention when zero.
func NewRedisStore(redisURL string, retention time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisStoreFromClient(redis.NewClient(opts), retention), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) key(k Key) string {
	return keyPrefix + k.String()
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key Key) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, true, nil
}

// Put implements Store.Put.
func (s *RedisStore) Put(ctx context.Context, entry Entry) error {
	key := entry.Key()
	entry.Station = key.Station
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(key), raw, s.retention).Err()
}

// Clear deletes every key under the store prefix. Other keys in the database are untouched.
func (s *RedisStore) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
