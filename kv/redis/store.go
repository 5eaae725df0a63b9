// Package redis provides the production Store backend on go-redis.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/agile6/mcp-auth-gateway/kv"
)

// Store implements kv.Store against a Redis instance. An optional key
// prefix isolates the gateway's namespace on a shared server.
type Store struct {
	client *goredis.Client
	prefix string
}

// NewStore creates a new [Store] instance.
func NewStore(client *goredis.Client, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

func (s *Store) redisKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return fmt.Sprintf("%s:%s", s.prefix, key)
}

// Get implements kv.Store.Get.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return val, nil
}

// Put implements kv.Store.Put. A zero ttl stores the key without expiry.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.redisKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete implements kv.Store.Delete.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// ListByPrefix implements kv.Store.ListByPrefix using SCAN pagination so
// large namespaces never block the server.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	pattern := s.redisKey(prefix) + "*"
	strip := len(s.redisKey("")) // prefix plus separator, if any

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %q: %w", pattern, err)
		}
		for _, k := range keys {
			val, err := s.client.Get(ctx, k).Bytes()
			if err == goredis.Nil {
				continue // expired between scan and get
			}
			if err != nil {
				return nil, fmt.Errorf("redis get %q: %w", k, err)
			}
			out[k[strip:]] = val
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

var _ kv.Store = (*Store)(nil)
