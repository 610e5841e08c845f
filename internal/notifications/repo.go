package notifications

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Repository interface {
	Create(ctx context.Context, n *models.Notification) error
	List(ctx context.Context, q listQuery) ([]models.Notification, string, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int64, error)
	// MarkRead reports false when userID owns no such notification.
	MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error)
	Prune(ctx context.Context, readBefore, createdBefore time.Time) (int64, error)
}

type listQuery struct {
	UserID     uuid.UUID
	Limit      int
	After      *pagination.Cursor
	UnreadOnly bool
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// inbox starts a fresh query over one user's notifications.
func (r *gormRepository) inbox(ctx context.Context, userID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", userID)
}

func (r *gormRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(n).Error
}

// List pages newest first. The returned cursor is empty on the last page.
func (r *gormRepository) List(ctx context.Context, q listQuery) ([]models.Notification, string, error) {
	query := r.inbox(ctx, q.UserID)
	if q.UnreadOnly {
		query = query.Where("read_at IS NULL")
	}
	if c := q.After; c != nil {
		query = query.Where("created_at < ? OR (created_at = ? AND id < ?)", c.CreatedAt, c.CreatedAt, c.ID)
	}

	var rows []models.Notification
	err := query.Order("created_at DESC").Order("id DESC").
		Limit(pagination.LimitWithBuffer(q.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, "", err
	}
	page, next := pagination.Trim(rows, q.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

func (r *gormRepository) CountUnread(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.inbox(ctx, userID).Where("read_at IS NULL").Count(&n).Error
	return n, err
}

// MarkRead leaves read_at alone on notifications that were already read.
func (r *gormRepository) MarkRead(ctx context.Context, userID, id uuid.UUID, at time.Time) (bool, error) {
	var current models.Notification
	err := r.inbox(ctx, userID).Select("id", "read_at").Where("id = ?", id).Take(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil || current.ReadAt != nil {
		return err == nil, err
	}
	err = r.inbox(ctx, userID).Where("id = ? AND read_at IS NULL", id).UpdateColumn("read_at", at).Error
	return err == nil, err
}

func (r *gormRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res := r.inbox(ctx, userID).Where("read_at IS NULL").UpdateColumn("read_at", at)
	return res.RowsAffected, res.Error
}

// Prune deletes notifications read before readBefore and anything created
// before createdBefore, read or not.
func (r *gormRepository) Prune(ctx context.Context, readBefore, createdBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("read_at < ? OR created_at < ?", readBefore, createdBefore).
		Delete(&models.Notification{})
	return res.RowsAffected, res.Error
}
