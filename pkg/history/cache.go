package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papercomputeco/loom/pkg/chat"
)

// ErrCacheMiss is returned when a thread's history is not cached.
var ErrCacheMiss = errors.New("history: cache miss")

// DefaultCacheTTL bounds how long a cached history may go unread.
const DefaultCacheTTL = 24 * time.Hour

// Cache is a redis read-through cache for thread histories.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache verifies connectivity and returns a history cache.
// A zero ttl uses DefaultCacheTTL.
func NewCache(ctx context.Context, client *redis.Client, ttl time.Duration) (*Cache, error) {
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// GetHistory returns the cached messages for a thread.
func (c *Cache) GetHistory(ctx context.Context, threadID string) ([]chat.Message, error) {
	data, err := c.client.Get(ctx, c.historyKey(threadID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("get history from cache: %w", err)
	}

	var msgs []chat.Message
	if err := json.Unmarshal([]byte(data), &msgs); err != nil {
		return nil, fmt.Errorf("unmarshal cached history: %w", err)
	}
	return msgs, nil
}

// SetHistory caches the messages for a thread.
func (c *Cache) SetHistory(ctx context.Context, threadID string, msgs []chat.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return c.client.Set(ctx, c.historyKey(threadID), data, c.ttl).Err()
}

// Invalidate drops the cached history for a thread.
func (c *Cache) Invalidate(ctx context.Context, threadID string) error {
	return c.client.Del(ctx, c.historyKey(threadID)).Err()
}

func (c *Cache) historyKey(threadID string) string {
	return "loom:thread:" + threadID + ":history"
}
