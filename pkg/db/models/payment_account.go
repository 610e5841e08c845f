package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentAccount links a marketplace user to their payment provider identities:
// a customer for posters paying into escrow and a connected account for
// inspectors receiving payouts.
type PaymentAccount struct {
	UserID             uuid.UUID `gorm:"column:user_id;type:uuid;primaryKey"`
	ProviderCustomerID *string   `gorm:"column:provider_customer_id"`
	ProviderAccountID  *string   `gorm:"column:provider_account_id"`
	PayoutsEnabled     bool      `gorm:"column:payouts_enabled;not null;default:false"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentAccount) TableName() string { return "payment_accounts" }
