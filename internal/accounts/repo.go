package accounts

import (
	"context"
	"errors"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists the link between users and their provider identities.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Find(ctx context.Context, userID uuid.UUID) (*models.PaymentAccount, error)
	SetCustomer(ctx context.Context, userID uuid.UUID, customerRef string) error
	SetPayoutAccount(ctx context.Context, userID uuid.UUID, accountRef string) error
	SetPayoutsEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Find returns nil without error when the user has no account row yet.
func (r *repository) Find(ctx context.Context, userID uuid.UUID) (*models.PaymentAccount, error) {
	var acct models.PaymentAccount
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (r *repository) SetCustomer(ctx context.Context, userID uuid.UUID, customerRef string) error {
	return r.upsert(ctx, models.PaymentAccount{UserID: userID, ProviderCustomerID: &customerRef}, "provider_customer_id")
}

func (r *repository) SetPayoutAccount(ctx context.Context, userID uuid.UUID, accountRef string) error {
	return r.upsert(ctx, models.PaymentAccount{UserID: userID, ProviderAccountID: &accountRef}, "provider_account_id")
}

func (r *repository) SetPayoutsEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentAccount{}).
		Where("user_id = ?", userID).
		Update("payouts_enabled", enabled).Error
}

func (r *repository) upsert(ctx context.Context, row models.PaymentAccount, column string) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{column, "updated_at"}),
	}).Create(&row).Error
}
