package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
)

// EscrowPayment records the money held for a job. One row per job;
// GrossCents always equals PlatformFeeCents + NetCents.
type EscrowPayment struct {
	ID                        uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	JobID                     uuid.UUID          `gorm:"column:job_id;type:uuid;not null;uniqueIndex"`
	PayerID                   uuid.UUID          `gorm:"column:payer_id;type:uuid;not null"`
	PayeeID                   uuid.UUID          `gorm:"column:payee_id;type:uuid;not null"`
	GrossCents                int64              `gorm:"column:gross_cents;not null"`
	PlatformFeeCents          int64              `gorm:"column:platform_fee_cents;not null"`
	NetCents                  int64              `gorm:"column:net_cents;not null"`
	Currency                  string             `gorm:"column:currency;not null"`
	Status                    enums.EscrowStatus `gorm:"column:status;not null"`
	ProviderPaymentReference  string             `gorm:"column:provider_payment_reference;not null"`
	ProviderTransferReference *string            `gorm:"column:provider_transfer_reference"`
	PaidAt                    time.Time          `gorm:"column:paid_at;not null"`
	ReleasedAt                *time.Time         `gorm:"column:released_at"`
	RefundedAt                *time.Time         `gorm:"column:refunded_at"`
	CreatedAt                 time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                 time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (EscrowPayment) TableName() string { return "escrow_payments" }
