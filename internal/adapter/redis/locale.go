// Package redisadapter shares locale lookups between enricher instances through Redis.
package redisadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/sensor-geo-enricher/internal/domain"
)

const keyPrefix = "sensor-geo-enricher:locale:"

// kv is the subset of *redis.Client used by the cache.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

type cachedLocale struct {
	Found      bool   `json:"found"`
	City       string `json:"city,omitempty"`
	LocaleName string `json:"locale_name,omitempty"`
}

// CachedLocaleLookup fronts another LocaleLookup with Redis. Redis failures
// are logged and fall through to the inner lookup.
type CachedLocaleLookup struct {
	client kv
	inner  domain.LocaleLookup
	ttl    time.Duration
	logger *slog.Logger
}

// NewClient creates a Redis client for addr.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

// NewCachedLocaleLookup wraps inner. Entries, misses included, live for ttl.
func NewCachedLocaleLookup(client kv, inner domain.LocaleLookup, ttl time.Duration, logger *slog.Logger) *CachedLocaleLookup {
	return &CachedLocaleLookup{client: client, inner: inner, ttl: ttl, logger: logger}
}

func (c *CachedLocaleLookup) LookupLocale(ctx context.Context, postalCode string) (domain.Locale, bool, error) {
	key := keyPrefix + postalCode

	s, err := c.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var v cachedLocale
		if jsonErr := json.Unmarshal([]byte(s), &v); jsonErr == nil {
			return domain.Locale{City: v.City, LocaleName: v.LocaleName}, v.Found, nil
		}
		c.logger.Warn("discarding malformed locale cache entry", "postal_code", postalCode)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("locale cache read failed", "postal_code", postalCode, "error", err)
	}

	locale, found, err := c.inner.LookupLocale(ctx, postalCode)
	if err != nil {
		return domain.Locale{}, false, err
	}

	b, _ := json.Marshal(cachedLocale{Found: found, City: locale.City, LocaleName: locale.LocaleName})
	if err := c.client.Set(ctx, key, string(b), c.ttl).Err(); err != nil {
		c.logger.Warn("locale cache write failed", "postal_code", postalCode, "error", err)
	}
	return locale, found, nil
}
