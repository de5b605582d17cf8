package models

import "time"

// Entry represents a cache entry.
type Entry struct {
	Value    any
	StoredAt time.Time
}

// NewEntry creates a new Entry stamped at storedAt.
func NewEntry(value any, storedAt time.Time) *Entry {
	return &Entry{Value: value, StoredAt: storedAt}
}

// IsLive reports whether the entry is still within ttl at now.
func (e *Entry) IsLive(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.StoredAt) < ttl
}
