package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list key used when none is configured.
const DefaultRedisKey = "auditvault:reconcile:pending"

// RedisQueue stores pending items in a Redis list so they survive restarts
// and can be drained by any vault instance.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue creates a RedisQueue on key. An empty key uses DefaultRedisKey.
func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisQueue{client: client, key: key}
}

// NewRedisQueueFromURL parses a redis:// URL and creates a RedisQueue.
func NewRedisQueueFromURL(url, key string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisQueue(redis.NewClient(opts), key), nil
}

// WithKey returns a queue on another list sharing q's client, e.g. for a
// dead-letter list.
func (q *RedisQueue) WithKey(key string) *RedisQueue {
	return NewRedisQueue(q.client, key)
}

// Ping checks connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Push implements Queue.
func (q *RedisQueue) Push(ctx context.Context, p Pending) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// Pop implements Queue.
func (q *RedisQueue) Pop(ctx context.Context) (*Pending, error) {
	data, err := q.client.LPop(ctx, q.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis lpop: %w", err)
	}
	var p Pending
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode pending: %w", err)
	}
	return &p, nil
}

// Len implements Queue.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis llen: %w", err)
	}
	return n, nil
}
