// Package ttl implements the single time-expiring key/value store shared by
// the pricing pipeline. Callers namespace unrelated values by key prefix.
package ttl

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"goflare.io/pricekeeper/internal/models"
	"goflare.io/pricekeeper/internal/utils"
)

const (
	filterExpectedItems     = 4096
	filterFalsePositiveRate = 0.01
)

// Cache is a sharded, thread-safe TTL store. An entry is live iff
// now - storedAt < ttl; stale entries are never returned.
type Cache struct {
	shards  []*shard
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *models.Metrics
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*models.Entry
	// filter holds every key set since the last clear; a negative test is a
	// guaranteed miss.
	filter *bloom.BloomFilter
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithShardCount sets the number of shards.
func WithShardCount(n uint64) Option {
	return func(c *Cache) {
		if n > 0 {
			c.shards = newShards(n)
		}
	}
}

// New creates a Cache with the given ttl.
func New(ttl time.Duration, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		shards:  newShards(1),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		metrics: models.NewMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newShards(n uint64) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{
			entries: make(map[string]*models.Entry),
			filter:  bloom.NewWithEstimates(filterExpectedItems, filterFalsePositiveRate),
		}
	}
	return shards
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[utils.ShardIndex(uint64(len(c.shards)), key)]
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the live value for key. A stale entry is evicted.
func (c *Cache) Get(key string) (any, bool) {
	s := c.shardFor(key)
	now := c.now()

	s.mu.RLock()
	if !s.filter.TestString(key) {
		s.mu.RUnlock()
		c.metrics.Misses.Inc()
		return nil, false
	}
	entry, found := s.entries[key]
	if found && entry.IsLive(now, c.ttl) {
		value := entry.Value
		s.mu.RUnlock()
		c.metrics.Hits.Inc()
		return value, true
	}
	s.mu.RUnlock()

	c.metrics.Misses.Inc()
	if !found {
		return nil, false
	}

	s.mu.Lock()
	// Another writer may have refreshed the entry between the locks.
	if current, ok := s.entries[key]; ok && !current.IsLive(now, c.ttl) {
		delete(s.entries, key)
		c.metrics.Evictions.Inc()
		c.metrics.Size.Dec()
		c.logger.Debug("Evicted stale cache entry", zap.String("key", key))
	}
	s.mu.Unlock()
	return nil, false
}

// GetFloat64 is Get for float64 values.
func (c *Cache) GetFloat64(key string) (float64, bool) {
	value, found := c.Get(key)
	if !found {
		return 0, false
	}
	f, ok := value.(float64)
	if !ok {
		c.logger.Error("Invalid cache entry type", zap.String("key", key))
		return 0, false
	}
	return f, true
}

// Set unconditionally writes value, stamping the current time.
func (c *Cache) Set(key string, value any) {
	s := c.shardFor(key)
	entry := models.NewEntry(value, c.now())

	s.mu.Lock()
	if _, exists := s.entries[key]; !exists {
		c.metrics.Size.Inc()
	}
	s.entries[key] = entry
	s.filter.AddString(key)
	s.mu.Unlock()
}

// Delete removes key.
func (c *Cache) Delete(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	if _, exists := s.entries[key]; exists {
		delete(s.entries, key)
		c.metrics.Size.Dec()
	}
	s.mu.Unlock()
}

// DeletePrefix removes every key in a namespace and returns how many were dropped.
func (c *Cache) DeletePrefix(prefix string) int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key := range s.entries {
			if strings.HasPrefix(key, prefix) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	c.metrics.Size.Sub(int64(removed))
	return removed
}

// Clear empties all entries.
func (c *Cache) Clear() {
	for _, s := range c.shards {
		s.mu.Lock()
		c.metrics.Size.Sub(int64(len(s.entries)))
		s.entries = make(map[string]*models.Entry)
		s.filter.ClearAll()
		s.mu.Unlock()
	}
}

// Sweep evicts every stale entry and returns the count.
func (c *Cache) Sweep() int {
	now := c.now()
	evicted := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, entry := range s.entries {
			if !entry.IsLive(now, c.ttl) {
				delete(s.entries, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	c.metrics.Evictions.Add(int64(evicted))
	c.metrics.Size.Sub(int64(evicted))
	return evicted
}

// Len returns the number of stored entries, stale ones included.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// CountPrefix returns the number of live entries in a namespace.
func (c *Cache) CountPrefix(prefix string) int {
	now := c.now()
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		for key, entry := range s.entries {
			if strings.HasPrefix(key, prefix) && entry.IsLive(now, c.ttl) {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

// Metrics returns the live counters.
func (c *Cache) Metrics() *models.Metrics {
	return c.metrics
}

// Run sweeps stale entries every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("Swept stale cache entries", zap.Int("count", n))
			}
		case <-ctx.Done():
			c.logger.Info("Stopping cache sweeper due to context cancellation")
			return
		}
	}
}
