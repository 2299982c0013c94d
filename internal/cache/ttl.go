// Package cache provides the in-process TTL cache that fronts the boundary
// resolvers. Each instance owns one key space and one TTL; expiry is checked
// lazily on Get, so callers bound memory by calling Clear.
package cache

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/sensor-geo-enricher/internal/observability"
)

// Instance names, used as the "cache" metric label.
const (
	NameAdmin        = "admin"
	NamePostalSubset = "postal_subset"
	NamePostalPoint  = "postal_point"
)

// DefaultTTL applies when a cache is configured without an explicit TTL.
const DefaultTTL = 60 * time.Minute

// Option configures a TTL cache.
type Option func(*settings)

type settings struct {
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// WithClock sets the time source used for insertion stamps and expiry checks.
func WithClock(c clockwork.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithMetrics records hits, misses, expiries and entry counts.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// TTL is a map-backed cache whose entries go stale ttl after insertion.
// A non-positive ttl disables expiry. It is safe for concurrent use.
type TTL[K comparable, V any] struct {
	name    string
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[K]entry[V]
}

// New creates an empty cache instance.
func New[K comparable, V any](name string, ttl time.Duration, opts ...Option) *TTL[K, V] {
	s := settings{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&s)
	}
	return &TTL[K, V]{
		name:    name,
		ttl:     ttl,
		clock:   s.clock,
		metrics: s.metrics,
		entries: make(map[K]entry[V]),
	}
}

// Name returns the instance name.
func (c *TTL[K, V]) Name() string { return c.name }

// Get returns the value stored under key. An entry whose age has reached the
// TTL is removed and reported as a miss.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.observe("miss")
		return zero, false
	}
	if c.ttl > 0 && c.clock.Since(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		c.observe("expired")
		c.gauge()
		return zero, false
	}
	c.observe("hit")
	return e.value, true
}

// Set stores value under key, replacing any previous entry and restarting its TTL.
func (c *TTL[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, insertedAt: c.clock.Now()}
	c.gauge()
}

// Invalidate removes key if present.
func (c *TTL[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	c.gauge()
}

// Clear removes every entry.
func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
	c.gauge()
}

// Len returns the number of stored entries, stale ones included.
func (c *TTL[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *TTL[K, V]) observe(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(c.name, result).Inc()
	}
}

func (c *TTL[K, V]) gauge() {
	if c.metrics != nil {
		c.metrics.CacheEntries.WithLabelValues(c.name).Set(float64(len(c.entries)))
	}
}
