// Package cache implements the time-boxed read cache keyed by resource name.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"binsync/internal/apperr"
	"binsync/internal/logging"
	"binsync/internal/metrics"
	"binsync/internal/models"
	"binsync/internal/storage"

	"github.com/rs/zerolog"
)

const keyPrefix = "cached:"

// entry is the persisted form: {data, timestamp} with timestamp in unix
// millis. Nanos holds the sub-millisecond rest; older entries lack it.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
	Nanos     int64           `json:"nanos,omitempty"`
}

func newEntry(data []byte, at time.Time) entry {
	ms := at.UnixMilli()
	return entry{Data: data, Timestamp: ms, Nanos: int64(at.Sub(time.UnixMilli(ms)))}
}

func (e entry) storedAt() time.Time {
	return time.UnixMilli(e.Timestamp).Add(time.Duration(e.Nanos)).UTC()
}

// Store caches whole resources (not individual items). Entries are never
// evicted; a lookup older than the resource TTL is reported as absent.
type Store struct {
	kv         storage.Store
	defaultTTL time.Duration
	ttls       map[string]time.Duration
	now        func() time.Time
	logger     *zerolog.Logger
}

type Option func(*Store)

// WithTTL overrides the TTL for one resource.
func WithTTL(resource string, ttl time.Duration) Option {
	return func(s *Store) { s.ttls[resource] = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(kv storage.Store, defaultTTL time.Duration, logger *zerolog.Logger, opts ...Option) *Store {
	if defaultTTL <= 0 {
		defaultTTL = models.DefaultCacheTTL
	}
	s := &Store{
		kv:         kv,
		defaultTTL: defaultTTL,
		ttls:       make(map[string]time.Duration),
		now:        time.Now,
		logger:     logging.Component(logger, "cache"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the effective TTL for resource.
func (s *Store) TTL(resource string) time.Duration {
	if ttl, ok := s.ttls[resource]; ok && ttl > 0 {
		return ttl
	}
	return s.defaultTTL
}

// Put stores value under resource stamped with the current time.
func (s *Store) Put(ctx context.Context, resource string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperr.Validation(fmt.Sprintf("cache %s: value is not serializable: %v", resource, err))
	}
	raw, err := json.Marshal(newEntry(data, s.now()))
	if err != nil {
		return apperr.System("encode cache entry", err)
	}
	if err := s.kv.Set(ctx, keyPrefix+resource, raw); err != nil {
		return apperr.System("write cache entry", err)
	}
	return nil
}

// Get decodes a fresh entry into out and reports whether one was found.
// Missing and stale entries both return false with a nil error.
func (s *Store) Get(ctx context.Context, resource string, out any) (bool, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+resource)
	if err != nil {
		return false, apperr.System("read cache entry", err)
	}
	if raw == nil {
		metrics.CacheMiss(resource)
		return false, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		// unreadable entries behave like absent ones
		s.logger.Warn().Err(err).Str("resource", resource).Msg("corrupt cache entry ignored")
		metrics.CacheMiss(resource)
		return false, nil
	}

	if s.now().Sub(e.storedAt()) >= s.TTL(resource) {
		metrics.CacheStale(resource)
		return false, nil
	}

	if err := json.Unmarshal(e.Data, out); err != nil {
		return false, apperr.System(fmt.Sprintf("decode cached %s", resource), err)
	}
	metrics.CacheHit(resource)
	return true, nil
}

// StoredAt returns when resource was cached, regardless of staleness.
func (s *Store) StoredAt(ctx context.Context, resource string) (time.Time, bool, error) {
	raw, err := s.kv.Get(ctx, keyPrefix+resource)
	if err != nil {
		return time.Time{}, false, apperr.System("read cache entry", err)
	}
	if raw == nil {
		return time.Time{}, false, nil
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return time.Time{}, false, nil
	}
	return e.storedAt(), true, nil
}

// Invalidate drops the entry for resource.
func (s *Store) Invalidate(ctx context.Context, resource string) error {
	if err := s.kv.Remove(ctx, keyPrefix+resource); err != nil {
		return apperr.System("remove cache entry", err)
	}
	return nil
}
