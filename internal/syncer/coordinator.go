// Package syncer replays queued offline operations against the remote.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"binsync/internal/events"
	"binsync/internal/logging"
	"binsync/internal/metrics"
	"binsync/internal/models"
	"binsync/internal/queue"
	"binsync/internal/resilience"
	"binsync/internal/storage"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DeliveryFunc sends one pending operation to the remote.
type DeliveryFunc func(ctx context.Context, op models.PendingOperation) error

// Connectivity is the part of the monitor the coordinator reads.
type Connectivity interface {
	IsOnline() bool
}

// Coordinator drains pending queues. One delivery attempt per entry per
// drain; delivered entries are removed, the rest stay for the next drain.
type Coordinator struct {
	queue           *queue.Queue
	kv              storage.Store
	conn            Connectivity
	bus             *events.EventBus
	logger          *zerolog.Logger
	deliveryTimeout time.Duration
	now             func() time.Time

	mu        sync.RWMutex
	kinds     []models.Kind
	delivery  map[models.Kind]DeliveryFunc
	kindLocks map[models.Kind]*sync.Mutex

	group   singleflight.Group
	syncing atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(q *queue.Queue, kv storage.Store, conn Connectivity, deliveryTimeout time.Duration, logger *zerolog.Logger, bus *events.EventBus) *Coordinator {
	if deliveryTimeout <= 0 {
		deliveryTimeout = models.DefaultDeliveryTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		queue:           q,
		kv:              kv,
		conn:            conn,
		bus:             bus,
		logger:          logging.Component(logger, "syncer"),
		deliveryTimeout: deliveryTimeout,
		now:             time.Now,
		delivery:        make(map[models.Kind]DeliveryFunc),
		kindLocks:       make(map[models.Kind]*sync.Mutex),
		ctx:             ctx,
		cancel:          cancel,
	}
}

// Register binds fn to kind. Kinds are drained in registration order;
// registering a kind again replaces its function.
func (c *Coordinator) Register(kind models.Kind, fn DeliveryFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.delivery[kind]; !ok {
		c.kinds = append(c.kinds, kind)
		c.kindLocks[kind] = &sync.Mutex{}
	}
	c.delivery[kind] = fn
}

// Kinds returns the registered kinds in drain order.
func (c *Coordinator) Kinds() []models.Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.Kind(nil), c.kinds...)
}

// IsSyncing reports whether a drain is in flight.
func (c *Coordinator) IsSyncing() bool {
	return c.syncing.Load()
}

// Drain delivers every pending operation of every registered kind. While
// offline it returns an empty report. Concurrent callers share one
// execution and its report.
//
// The shared execution runs on the coordinator's context and stops only on
// Close. ctx bounds how long this caller waits for it.
func (c *Coordinator) Drain(ctx context.Context) (models.SyncReport, error) {
	if !c.conn.IsOnline() {
		c.logger.Debug().Msg("offline, drain skipped")
		return models.SyncReport{}, nil
	}

	ch := c.group.DoChan("drain", func() (interface{}, error) {
		c.syncing.Store(true)
		defer c.syncing.Store(false)
		return c.drain(c.ctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Msg("joined in-flight drain")
		}
		report, _ := res.Val.(models.SyncReport)
		return report, res.Err
	case <-ctx.Done():
		// drain keeps going for the other callers
		return models.SyncReport{}, ctx.Err()
	}
}

func (c *Coordinator) drain(ctx context.Context) (models.SyncReport, error) {
	report := models.SyncReport{
		Succeeded: []string{},
		Failed:    []string{},
		StartedAt: c.now().UTC(),
	}

	var errs []error
	for _, kind := range c.Kinds() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.drainKind(ctx, kind, &report); err != nil {
			c.logger.Error().Err(err).Str("kind", string(kind)).Msg("drain kind failed")
			errs = append(errs, err)
		}
	}
	report.FinishedAt = c.now().UTC()

	if err := c.setLastSync(ctx, report.FinishedAt); err != nil {
		c.logger.Warn().Err(err).Msg("persist last sync")
	}

	metrics.IncDrain()
	if err := c.bus.PublishJSON(events.EventSyncCompleted, events.SyncPayload{
		Attempted: report.Attempted,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
	}); err != nil {
		c.logger.Warn().Err(err).Msg("publish sync event")
	}

	if report.Empty() {
		c.logger.Debug().Msg("drain finished, nothing pending")
		return report, errors.Join(errs...)
	}
	c.logger.Info().
		Int("attempted", report.Attempted).
		Int("succeeded", len(report.Succeeded)).
		Int("failed", len(report.Failed)).
		Dur("took", report.FinishedAt.Sub(report.StartedAt)).
		Msg("drain finished")

	return report, errors.Join(errs...)
}

// drainKind delivers the entries of one kind in FIFO order. Only a failed
// read of the queue is returned; per-entry failures go into the report.
func (c *Coordinator) drainKind(ctx context.Context, kind models.Kind, report *models.SyncReport) error {
	c.mu.RLock()
	fn := c.delivery[kind]
	lock := c.kindLocks[kind]
	c.mu.RUnlock()

	lock.Lock()
	defer lock.Unlock()

	ops, err := c.queue.ListPending(ctx, kind)
	if err != nil {
		return fmt.Errorf("list pending %s: %w", kind, err)
	}

	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Attempted++

		if err := c.deliver(ctx, fn, op); err != nil {
			c.logger.Warn().Err(err).Str("kind", string(kind)).Str("id", op.ID).Msg("delivery failed, kept in queue")
			report.Failed = append(report.Failed, op.ID)
			metrics.ObserveDelivery(string(kind), false)
			continue
		}

		if err := c.queue.Remove(ctx, kind, op.ID); err != nil {
			// доставлено, но осталось в очереди: будет отправлено повторно
			c.logger.Error().Err(err).Str("kind", string(kind)).Str("id", op.ID).Msg("remove delivered operation")
			report.Failed = append(report.Failed, op.ID)
			metrics.ObserveDelivery(string(kind), false)
			continue
		}
		report.Succeeded = append(report.Succeeded, op.ID)
		metrics.ObserveDelivery(string(kind), true)
	}
	return nil
}

func (c *Coordinator) deliver(ctx context.Context, fn DeliveryFunc, op models.PendingOperation) error {
	_, err := resilience.Retry(ctx, func(ctx context.Context) (struct{}, error) {
		return resilience.WithTimeout(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx, op)
		}, c.deliveryTimeout)
	}, 1, 0)
	return err
}

// OnConnectivityChange is meant to be subscribed to the connectivity
// monitor. Coming back online starts one background drain.
func (c *Coordinator) OnConnectivityChange(isOnline, wasOffline bool) {
	if !isOnline || !wasOffline {
		return
	}
	c.logger.Info().Msg("back online, starting drain")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.Drain(c.ctx); err != nil {
			c.logger.Error().Err(err).Msg("background drain")
		}
	}()
}

// Run drains periodically while online until ctx is done.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.conn.IsOnline() {
				continue
			}
			if _, err := c.Drain(ctx); err != nil {
				c.logger.Error().Err(err).Msg("periodic drain")
			}
		}
	}
}

// Close cancels background drains and waits for them.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

// LastSync returns the finish time of the last drain, if any.
func (c *Coordinator) LastSync(ctx context.Context) (time.Time, bool, error) {
	raw, err := c.kv.Get(ctx, models.LastSyncKey)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read last sync: %w", err)
	}
	if len(raw) == 0 {
		return time.Time{}, false, nil
	}
	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last sync %q: %w", raw, err)
	}
	return time.UnixMilli(ms).UTC(), true, nil
}

func (c *Coordinator) setLastSync(ctx context.Context, at time.Time) error {
	return c.kv.Set(ctx, models.LastSyncKey, []byte(strconv.FormatInt(at.UnixMilli(), 10)))
}
