package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper remembers which alarms were already pushed so repeated passes do
// not notify twice within the window.
type Deduper interface {
	// Add records key and reports whether it was newly recorded.
	Add(ctx context.Context, key string) (bool, error)
	// Remove forgets key so a failed delivery can be retried.
	Remove(ctx context.Context, key string) error
}

// RedisDeduper stores notified keys in Redis with a TTL so every daemon
// sharing the instance agrees on what has been sent.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, prefix: "taskboard:notified", ttl: ttl}
}

func (r *RedisDeduper) key(key string) string {
	return fmt.Sprintf("%s:%s", r.prefix, key)
}

func (r *RedisDeduper) Add(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), 1, r.ttl).Result()
}

func (r *RedisDeduper) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// NoOpDeduper treats every key as new.
type NoOpDeduper struct{}

func (NoOpDeduper) Add(ctx context.Context, key string) (bool, error) { return true, nil }

func (NoOpDeduper) Remove(ctx context.Context, key string) error { return nil }

// AlarmKey identifies one kind of escalation of one task.
func AlarmKey(taskID, kind string) string {
	return taskID + ":" + kind
}
