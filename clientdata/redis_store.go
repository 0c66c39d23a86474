package clientdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/cyberinferno/go-sockets/message"
)

// DefaultRedisPrefix namespaces every key this package writes to Redis.
const DefaultRedisPrefix = "gosockets:clientdata:"

// RedisStore keeps client data in Redis as JSON, so operators can inspect
// who is connected to a server from outside the process.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	group  singleflight.Group
}

// NewRedisStore creates a RedisStore. ttl of 0 keeps keys until deleted.
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := clientdata.NewRedisStore(client, clientdata.DefaultRedisPrefix, time.Hour)
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, data message.ClientData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal client data: %w", err)
	}

	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}

	return nil
}

type lookup struct {
	data  message.ClientData
	found bool
}

// Get implements Store. Concurrent lookups of the same key share one round
// trip.
func (s *RedisStore) Get(ctx context.Context, key string) (message.ClientData, bool, error) {
	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
		if errors.Is(err, redis.Nil) {
			return lookup{}, nil
		}

		if err != nil {
			return nil, fmt.Errorf("redis get error: %w", err)
		}

		var data message.ClientData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal client data: %w", err)
		}

		return lookup{data: data, found: true}, nil
	})
	if err != nil {
		return message.ClientData{}, false, err
	}

	l := v.(lookup)
	return l.data, l.found, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}

	return nil
}

// DeletePrefix implements Store using SCAN, never KEYS.
func (s *RedisStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := s.scan(ctx, s.prefix+prefix)
	if err != nil {
		return 0, err
	}

	if len(keys) == 0 {
		return 0, nil
	}

	deleted, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to delete keys: %w", err)
	}

	return int(deleted), nil
}

// Count implements Store using SCAN. It only sees keys under the store
// prefix.
func (s *RedisStore) Count(ctx context.Context, prefix string) (int, error) {
	keys, err := s.scan(ctx, s.prefix+prefix)
	if err != nil {
		return 0, err
	}

	return len(keys), nil
}

func (s *RedisStore) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}

	return keys, nil
}
