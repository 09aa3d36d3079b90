// Package dedup provides an optional redis-backed seen-URL cache used as a
// fast path in front of the catalog existence check.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kibblewatch/crawler/internal/crawler"
)

const keyPrefix = "kibblewatch:seen:url:"

// Cache marks canonical URLs as seen for the cache TTL. All methods are
// nil-safe so an unconfigured cache behaves as a miss.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New constructs a Cache. TTL defaults to 24h.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Seen marks the URL and reports whether it was already marked. The first
// caller for a URL wins the mark and gets false.
func (c *Cache) Seen(ctx context.Context, rawURL string) (bool, error) {
	if c == nil || c.rdb == nil || rawURL == "" {
		return false, nil
	}
	key := keyPrefix + hashURL(crawler.CanonicalURL(rawURL))
	ok, err := c.rdb.SetNX(ctx, key, "1", c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("seen setnx: %w", err)
	}
	return !ok, nil
}

// Forget clears the mark so a URL whose item never landed can be retried.
func (c *Cache) Forget(ctx context.Context, rawURL string) error {
	if c == nil || c.rdb == nil || rawURL == "" {
		return nil
	}
	key := keyPrefix + hashURL(crawler.CanonicalURL(rawURL))
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("seen del: %w", err)
	}
	return nil
}

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
