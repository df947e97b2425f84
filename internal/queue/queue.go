// Package queue persists mutations created offline until they are delivered.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"binsync/internal/apperr"
	"binsync/internal/logging"
	"binsync/internal/metrics"
	"binsync/internal/models"
	"binsync/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Key returns the storage key holding the list for kind.
func Key(kind models.Kind) string {
	switch kind {
	case models.KindBooking:
		return "pending:bookings"
	case models.KindFeedback:
		return "pending:feedback"
	default:
		return "pending:" + string(kind)
	}
}

// Queue is an append-only list of pending operations per kind. Every
// read-modify-write of a list happens under mu.
type Queue struct {
	kv     storage.Store
	mu     sync.Mutex
	now    func() time.Time
	newID  func() (string, error)
	logger *zerolog.Logger
}

func New(kv storage.Store, logger *zerolog.Logger) *Queue {
	return &Queue{
		kv:     kv,
		now:    time.Now,
		newID:  newV7,
		logger: logging.Component(logger, "queue"),
	}
}

// newV7 yields time-ordered ids so lexical order follows creation order.
func newV7() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Enqueue appends a new operation and returns the stored record. Its ID is
// the receipt handed to the user.
func (q *Queue) Enqueue(ctx context.Context, kind models.Kind, payload any) (*models.PendingOperation, error) {
	if strings.TrimSpace(string(kind)) == "" {
		return nil, apperr.Validation("operation kind is required")
	}
	if payload == nil {
		return nil, apperr.Validation("operation payload is required")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("payload is not serializable: %v", err))
	}

	id, err := q.newID()
	if err != nil {
		return nil, apperr.System("generate operation id", err)
	}

	op := models.PendingOperation{
		ID:             id,
		SchemaVersion:  models.PendingSchemaVersion,
		Kind:           kind,
		Payload:        raw,
		Status:         models.StatusPendingSync,
		CreatedOffline: true,
		CreatedAt:      q.now().UTC(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load(ctx, kind)
	if err != nil {
		return nil, err
	}
	ops = append(ops, op)
	if err := q.save(ctx, kind, ops); err != nil {
		return nil, err
	}

	q.logger.Info().Str("kind", string(kind)).Str("id", op.ID).Int("pending", len(ops)).Msg("operation queued")
	return &op, nil
}

// ListPending returns every pending operation of kind in enqueue order.
func (q *Queue) ListPending(ctx context.Context, kind models.Kind) ([]models.PendingOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.load(ctx, kind)
}

// Count returns the number of pending operations of kind.
func (q *Queue) Count(ctx context.Context, kind models.Kind) (int, error) {
	ops, err := q.ListPending(ctx, kind)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Remove deletes the operation with id. Unknown ids are a no-op.
func (q *Queue) Remove(ctx context.Context, kind models.Kind, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	ops, err := q.load(ctx, kind)
	if err != nil {
		return err
	}

	idx := -1
	for i := range ops {
		if ops[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	ops = append(ops[:idx], ops[idx+1:]...)
	if err := q.save(ctx, kind, ops); err != nil {
		return err
	}
	q.logger.Debug().Str("kind", string(kind)).Str("id", id).Msg("operation removed")
	return nil
}

func (q *Queue) load(ctx context.Context, kind models.Kind) ([]models.PendingOperation, error) {
	raw, err := q.kv.Get(ctx, Key(kind))
	if err != nil {
		return nil, apperr.System("read pending queue", err)
	}
	if len(raw) == 0 {
		return []models.PendingOperation{}, nil
	}

	var ops []models.PendingOperation
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, apperr.System(fmt.Sprintf("decode pending queue %s", kind), err)
	}
	for i := range ops {
		upgrade(&ops[i], kind)
	}
	return ops, nil
}

// upgrade fills fields that records written before versioning lack.
func upgrade(op *models.PendingOperation, kind models.Kind) {
	if op.SchemaVersion == 0 {
		op.SchemaVersion = 1
	}
	if op.Kind == "" {
		op.Kind = kind
	}
	if op.Status == "" {
		op.Status = models.StatusPendingSync
	}
}

func (q *Queue) save(ctx context.Context, kind models.Kind, ops []models.PendingOperation) error {
	raw, err := json.Marshal(ops)
	if err != nil {
		return apperr.System("encode pending queue", err)
	}
	if err := q.kv.Set(ctx, Key(kind), raw); err != nil {
		return apperr.System("write pending queue", err)
	}
	metrics.SetPending(string(kind), len(ops))
	return nil
}
