// Package offline decides per call whether to go to the remote, fall back
// to cached data, or queue a mutation for later delivery.
package offline

import (
	"context"

	"binsync/internal/apperr"
	"binsync/internal/cache"
	"binsync/internal/events"
	"binsync/internal/logging"
	"binsync/internal/models"
	"binsync/internal/queue"

	"github.com/rs/zerolog"
)

// Operation is a unit of work run on either path.
type Operation[T any] func(ctx context.Context) (T, error)

// Connectivity is the part of the monitor the service reads.
type Connectivity interface {
	IsOnline() bool
}

type Service struct {
	conn   Connectivity
	cache  *cache.Store
	queue  *queue.Queue
	bus    *events.EventBus
	logger *zerolog.Logger
}

func NewService(conn Connectivity, c *cache.Store, q *queue.Queue, logger *zerolog.Logger, bus *events.EventBus) *Service {
	return &Service{
		conn:   conn,
		cache:  c,
		queue:  q,
		bus:    bus,
		logger: logging.Component(logger, "offline"),
	}
}

func (s *Service) IsOnline() bool {
	return s.conn.IsOnline()
}

// Execute runs online when connected and caches its result under cacheKey.
// Offline it tries offline, then the cache, then fails with a NETWORK_ERROR
// marked offlineMode. Errors of online and offline are returned unchanged.
func Execute[T any](ctx context.Context, s *Service, online, offline Operation[T], cacheKey string) (T, error) {
	var zero T

	if s.conn.IsOnline() {
		result, err := online(ctx)
		if err != nil {
			return zero, err
		}
		if cacheKey != "" {
			if err := s.cache.Put(ctx, cacheKey, result); err != nil {
				s.logger.Warn().Err(err).Str("resource", cacheKey).Msg("cache write failed")
			}
		}
		return result, nil
	}

	if offline != nil {
		return offline(ctx)
	}

	if cacheKey != "" {
		var cached T
		found, err := s.cache.Get(ctx, cacheKey, &cached)
		if err != nil {
			return zero, err
		}
		if found {
			s.logger.Debug().Str("resource", cacheKey).Msg("served from cache")
			return cached, nil
		}
	}

	return zero, apperr.Offline()
}

// Submit performs a mutation. Online it runs online and returns a nil
// receipt. Offline, or when online fails with a NETWORK_ERROR anywhere in
// its chain, the payload is queued and the stored record is returned as
// the receipt.
func (s *Service) Submit(ctx context.Context, kind models.Kind, payload any, online func(ctx context.Context) error) (*models.PendingOperation, error) {
	if s.conn.IsOnline() && online != nil {
		err := online(ctx)
		if err == nil {
			return nil, nil
		}
		if !apperr.Has(err, apperr.KindNetwork) {
			return nil, err
		}
		s.logger.Warn().Err(err).Str("kind", string(kind)).Msg("remote unreachable, queueing")
	}

	op, err := s.queue.Enqueue(ctx, kind, payload)
	if err != nil {
		return nil, err
	}

	if err := s.bus.PublishJSON(events.EventOperationQueued, events.QueuedPayload{
		ID:        op.ID,
		Kind:      string(op.Kind),
		CreatedAt: op.CreatedAt,
	}); err != nil {
		s.logger.Warn().Err(err).Msg("publish queued event")
	}
	return op, nil
}
