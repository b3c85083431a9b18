package services

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"entitlement-api/pkg/logging"
)

// ReplayCache is the fast-path duplicate guard in front of the entitlement
// store. MarkProcessed must be atomic: exactly one of any number of concurrent
// callers for the same transaction ID wins. The store's unique index on
// transaction_id remains the final authority for entries past the cache TTL.
type ReplayCache interface {
	// MarkProcessed records the transaction ID and reports whether this caller
	// was the first to do so.
	MarkProcessed(ctx context.Context, transactionID string) (bool, error)
	// Release removes the record, so a validation that failed after the guard
	// does not poison legitimate retries.
	Release(ctx context.Context, transactionID string) error
}

// RedisReplayCache implements ReplayCache on Redis SETNX.
type RedisReplayCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisReplayCache 创建 Redis 重放防护缓存
func NewRedisReplayCache(client *redis.Client, ttl time.Duration) *RedisReplayCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisReplayCache{client: client, ttl: ttl}
}

func replayKey(transactionID string) string {
	return "processed_txn:" + transactionID
}

// MarkProcessed sets the key if absent. SETNX makes the winner unambiguous
// under concurrent identical submissions.
func (c *RedisReplayCache) MarkProcessed(ctx context.Context, transactionID string) (bool, error) {
	return c.client.SetNX(ctx, replayKey(transactionID), time.Now().Unix(), c.ttl).Result()
}

// Release removes the key.
func (c *RedisReplayCache) Release(ctx context.Context, transactionID string) error {
	return c.client.Del(ctx, replayKey(transactionID)).Err()
}

// MemoryReplayCache 内存重放防护（开发/测试用）
// In-process fallback used when Redis is not configured. Entries expire after
// the TTL via a background cleanup goroutine.
type MemoryReplayCache struct {
	processed map[string]time.Time
	mutex     sync.Mutex
	ttl       time.Duration
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewMemoryReplayCache 创建内存重放防护缓存
func NewMemoryReplayCache(ttl time.Duration) *MemoryReplayCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	c := &MemoryReplayCache{
		processed: make(map[string]time.Time),
		ttl:       ttl,
		stop:      make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

func (c *MemoryReplayCache) MarkProcessed(_ context.Context, transactionID string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if seenAt, exists := c.processed[transactionID]; exists && time.Since(seenAt) < c.ttl {
		return false, nil
	}
	c.processed[transactionID] = time.Now()
	return true, nil
}

func (c *MemoryReplayCache) Release(_ context.Context, transactionID string) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.processed, transactionID)
	return nil
}

func (c *MemoryReplayCache) cleanupLoop() {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stop:
			return
		}
	}
}

func (c *MemoryReplayCache) cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	initial := len(c.processed)
	now := time.Now()
	for id, seenAt := range c.processed {
		if now.Sub(seenAt) > c.ttl {
			delete(c.processed, id)
		}
	}
	if removed := initial - len(c.processed); removed > 0 {
		logging.Infof("Replay cache cleanup: removed %d expired entries, remaining: %d", removed, len(c.processed))
	}
}

// Stop 停止清理协程
func (c *MemoryReplayCache) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}
