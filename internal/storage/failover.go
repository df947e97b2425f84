package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FailoverStore routes calls to primary and switches to fallback after a
// primary error. Primary is retried once recoveryInterval has passed.
// Writes made while failed over live only in fallback.
type FailoverStore struct {
	primary          Store
	fallback         Store
	logger           *zerolog.Logger
	recoveryInterval time.Duration

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStore(primary, fallback Store, recoveryInterval time.Duration, logger *zerolog.Logger) *FailoverStore {
	if recoveryInterval <= 0 {
		recoveryInterval = time.Minute
	}
	return &FailoverStore{
		primary:          primary,
		fallback:         fallback,
		logger:           logger,
		recoveryInterval: recoveryInterval,
	}
}

// Degraded reports whether calls currently go to the fallback store.
func (f *FailoverStore) Degraded() bool {
	return f.isDown.Load()
}

// Ping checks the primary store. A primary without a health check counts
// as healthy.
func (f *FailoverStore) Ping(ctx context.Context) error {
	if p, ok := f.primary.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (f *FailoverStore) shouldTryPrimary() bool {
	if !f.isDown.Load() {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Since(f.lastCheck) > f.recoveryInterval
}

func (f *FailoverStore) markDown(err error) {
	if !f.isDown.Swap(true) && f.logger != nil {
		f.logger.Error().Err(err).Msg("Primary store failed, falling back to memory")
	}
	f.mu.Lock()
	f.lastCheck = time.Now()
	f.mu.Unlock()
}

func (f *FailoverStore) markUp() {
	if f.isDown.Swap(false) && f.logger != nil {
		f.logger.Info().Msg("Primary store recovered")
	}
}

func (f *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	if f.shouldTryPrimary() {
		val, err := f.primary.Get(ctx, key)
		if err == nil {
			f.markUp()
			return val, nil
		}
		f.markDown(err)
	}
	return f.fallback.Get(ctx, key)
}

func (f *FailoverStore) Set(ctx context.Context, key string, value []byte) error {
	if f.shouldTryPrimary() {
		err := f.primary.Set(ctx, key, value)
		if err == nil {
			f.markUp()
			return nil
		}
		f.markDown(err)
	}
	return f.fallback.Set(ctx, key, value)
}

func (f *FailoverStore) Remove(ctx context.Context, key string) error {
	if f.shouldTryPrimary() {
		err := f.primary.Remove(ctx, key)
		if err == nil {
			f.markUp()
			return nil
		}
		f.markDown(err)
	}
	return f.fallback.Remove(ctx, key)
}
