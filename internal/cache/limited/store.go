// Package limited provides a bounded, best-effort store for values that are
// cheap to lose, such as display names. Writes may be dropped under pressure.
package limited

import (
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Store defines the interface for bounded string caching.
type Store interface {
	Set(key, value string) bool
	Get(key string) (string, bool)
	Delete(key string)
	Flush()
	Close()
}

// RistrettoStore implements the Store interface using Ristretto.
type RistrettoStore struct {
	cache  *ristretto.Cache
	logger *zap.Logger
	ttl    time.Duration
}

// NewRistrettoStore creates a RistrettoStore holding up to maxItems entries.
func NewRistrettoStore(maxItems uint64, ttl time.Duration, logger *zap.Logger) (*RistrettoStore, error) {
	if maxItems == 0 {
		return nil, fmt.Errorf("max items must be greater than 0")
	}
	numCounters := int64(math.Min(float64(10*maxItems), float64(math.MaxInt64)))
	maxCost := int64(math.Min(float64(maxItems), float64(math.MaxInt64)))

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        numCounters,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}

	return &RistrettoStore{
		cache:  c,
		logger: logger,
		ttl:    ttl,
	}, nil
}

// Set stores value with cost 1. It returns false when the write was dropped.
func (s *RistrettoStore) Set(key, value string) bool {
	var ok bool
	if s.ttl > 0 {
		ok = s.cache.SetWithTTL(key, value, 1, s.ttl)
	} else {
		ok = s.cache.Set(key, value, 1)
	}
	if !ok {
		s.logger.Debug("Ristretto set dropped", zap.String("key", key))
		return false
	}
	s.cache.Wait()
	return true
}

// Get retrieves a value.
func (s *RistrettoStore) Get(key string) (string, bool) {
	value, found := s.cache.Get(key)
	if !found {
		return "", false
	}
	str, ok := value.(string)
	if !ok {
		s.logger.Error("Invalid cache entry type", zap.String("key", key))
		return "", false
	}
	return str, true
}

// Delete removes a value.
func (s *RistrettoStore) Delete(key string) {
	s.cache.Del(key)
}

// Flush clears the entire store.
func (s *RistrettoStore) Flush() {
	s.cache.Clear()
}

// Close closes the store.
func (s *RistrettoStore) Close() {
	s.cache.Close()
}
