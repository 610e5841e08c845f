package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
)

var errNoTx = errors.New("outbox: transaction required")

// Repository reads and writes outbox rows. Publisher methods run inside the
// caller's transaction; retention methods open their own.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errNoTx
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	return tx.Create(&event).Error
}

func pending(tx *gorm.DB) *gorm.DB {
	return tx.Model(&models.OutboxEvent{}).Where("published_at IS NULL")
}

// ClaimBatch row-locks the oldest deliverable rows. Concurrent publishers
// skip locked rows instead of waiting on them.
func (r *Repository) ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	q := pending(tx).Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at ASC, id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error {
	return setFields(tx, id, map[string]any{"published_at": at.UTC()})
}

func (r *Repository) RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error {
	return setFields(tx, id, map[string]any{
		"last_error":    cause.Error(),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// Park sets attempts to the ceiling so ClaimBatch never returns the row
// again. Replay means resetting attempt_count by hand.
func (r *Repository) Park(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	return setFields(tx, id, map[string]any{
		"last_error":    cause.Error(),
		"attempt_count": ceiling,
	})
}

func setFields(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(fields).Error
}

// PruneDelivered deletes rows published before cutoff. Undelivered rows are
// never touched, however old.
func (r *Repository) PruneDelivered(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("published_at IS NOT NULL AND published_at < ?", cutoff).
		Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}

// Backlog describes what the publisher has not delivered yet.
type Backlog struct {
	Pending int64
	// Parked rows exhausted their attempts and wait for a manual replay.
	Parked        int64
	OldestPending *time.Time
}

func (r *Repository) Backlog(ctx context.Context, maxAttempts int) (Backlog, error) {
	conn := r.db.WithContext(ctx)
	var b Backlog
	if err := pending(conn).Where("attempt_count < ?", maxAttempts).Count(&b.Pending).Error; err != nil {
		return Backlog{}, err
	}
	if err := pending(conn).Where("attempt_count >= ?", maxAttempts).Count(&b.Parked).Error; err != nil {
		return Backlog{}, err
	}
	if b.Pending > 0 {
		var oldest models.OutboxEvent
		err := pending(conn).Where("attempt_count < ?", maxAttempts).
			Order("created_at ASC").Limit(1).Take(&oldest).Error
		if err != nil {
			return Backlog{}, err
		}
		at := oldest.CreatedAt.UTC()
		b.OldestPending = &at
	}
	return b, nil
}
