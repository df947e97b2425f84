package offline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"binsync/internal/apperr"
	"binsync/internal/cache"
	"binsync/internal/events"
	"binsync/internal/models"
	"binsync/internal/queue"
	"binsync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct{ online atomic.Bool }

func (f *fakeConn) IsOnline() bool { return f.online.Load() }

type fixture struct {
	conn  *fakeConn
	now   time.Time
	cache *cache.Store
	queue *queue.Queue
	bus   *events.EventBus
	svc   *Service
}

func newFixture(t *testing.T, online bool) *fixture {
	t.Helper()
	kv := storage.NewMemoryStore()
	f := &fixture{conn: &fakeConn{}, now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC), bus: events.NewEventBus()}
	f.conn.online.Store(online)
	f.cache = cache.New(kv, time.Hour, nil, cache.WithClock(func() time.Time { return f.now }))
	f.queue = queue.New(kv, nil)
	f.svc = NewService(f.conn, f.cache, f.queue, nil, f.bus)
	return f
}

func bins() []models.Bin {
	return []models.Bin{{ID: "b1", Name: "Central"}, {ID: "b2", Name: "Harbor"}}
}

func TestExecute_OnlineCachesResult(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	got, err := Execute(ctx, f.svc, func(context.Context) ([]models.Bin, error) {
		return bins(), nil
	}, nil, "bins")
	require.NoError(t, err)
	assert.Equal(t, bins(), got)

	var cached []models.Bin
	found, err := f.cache.Get(ctx, "bins", &cached)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, bins(), cached)
}

func TestExecute_OnlineErrorUnchanged(t *testing.T) {
	f := newFixture(t, true)
	want := apperr.Validation("bin id is required")

	_, err := Execute(context.Background(), f.svc, func(context.Context) (int, error) {
		return 0, want
	}, nil, "")
	assert.Same(t, want, err)
}

func TestExecute_OfflinePrefersOfflineOp(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := Execute(ctx, f.svc, func(context.Context) ([]models.Bin, error) { return bins(), nil }, nil, "bins")
	require.NoError(t, err)

	f.conn.online.Store(false)
	got, err := Execute(ctx, f.svc,
		func(context.Context) ([]models.Bin, error) { t.Fatal("online op called offline"); return nil, nil },
		func(context.Context) ([]models.Bin, error) { return []models.Bin{{ID: "local"}}, nil },
		"bins")
	require.NoError(t, err)
	assert.Equal(t, "local", got[0].ID)
}

func TestExecute_OfflineFallsBackToCache(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := Execute(ctx, f.svc, func(context.Context) ([]models.Bin, error) { return bins(), nil }, nil, "bins")
	require.NoError(t, err)

	f.conn.online.Store(false)
	got, err := Execute[[]models.Bin](ctx, f.svc, nil, nil, "bins")
	require.NoError(t, err)
	assert.Equal(t, bins(), got)
}

func TestExecute_OfflineStaleCacheFails(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, err := Execute(ctx, f.svc, func(context.Context) ([]models.Bin, error) { return bins(), nil }, nil, "bins")
	require.NoError(t, err)

	f.conn.online.Store(false)
	f.now = f.now.Add(time.Hour)

	_, err = Execute[[]models.Bin](ctx, f.svc, nil, nil, "bins")
	require.Error(t, err)

	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, apperr.KindNetwork, appErr.Kind)
	assert.Equal(t, "No internet connection and no cached data available", appErr.Message)
	assert.Equal(t, true, appErr.Details["offlineMode"])
}

func TestSubmit_OnlineRunsImmediately(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var calls int
	op, err := f.svc.Submit(ctx, models.KindBooking, models.Booking{BinID: "b1"}, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Nil(t, op)
	assert.Equal(t, 1, calls)

	n, _ := f.queue.Count(ctx, models.KindBooking)
	assert.Zero(t, n)
}

func TestSubmit_OfflineQueues(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	var queued events.QueuedPayload
	f.bus.Subscribe(events.EventOperationQueued, func(e *events.Event) error {
		return e.Decode(&queued)
	})

	op, err := f.svc.Submit(ctx, models.KindFeedback, models.Feedback{Rating: 4}, func(context.Context) error {
		t.Fatal("online op called offline")
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, op.ID, queued.ID)

	ops, err := f.queue.ListPending(ctx, models.KindFeedback)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, op.ID, ops[0].ID)
}

func TestSubmit_NetworkFailureQueues(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	op, err := f.svc.Submit(ctx, models.KindBooking, models.Booking{BinID: "b1"}, func(context.Context) error {
		return apperr.Network("connection refused", nil)
	})
	require.NoError(t, err)
	require.NotNil(t, op)

	n, _ := f.queue.Count(ctx, models.KindBooking)
	assert.Equal(t, 1, n)
}

func TestSubmit_ExhaustedRetriesQueue(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	op, err := f.svc.Submit(ctx, models.KindBooking, models.Booking{BinID: "b1"}, func(context.Context) error {
		return apperr.System("operation failed after 3 attempts", apperr.Network("bad gateway", nil))
	})
	require.NoError(t, err)
	require.NotNil(t, op)
}

func TestSubmit_BusinessRuleNotQueued(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, models.KindBooking, models.Booking{BinID: "b1"}, func(context.Context) error {
		return apperr.BusinessRule("bin already booked")
	})
	assert.True(t, apperr.Is(err, apperr.KindBusinessRule))

	n, _ := f.queue.Count(ctx, models.KindBooking)
	assert.Zero(t, n)
}
