package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
)

// InspectionJob is a poster's request for a property inspection. The job row
// is the single source of truth for escrow state.
type InspectionJob struct {
	ID              uuid.UUID     `gorm:"column:id;type:uuid;primaryKey"`
	PosterID        uuid.UUID     `gorm:"column:poster_id;type:uuid;not null"`
	PropertyAddress string        `gorm:"column:property_address;not null"`
	PropertyCity    string        `gorm:"column:property_city;not null"`
	PropertyState   string        `gorm:"column:property_state;not null"`
	PropertyZip     string        `gorm:"column:property_zip;not null"`
	Urgency         enums.Urgency `gorm:"column:urgency;not null"`
	BudgetCents     int64         `gorm:"column:budget_cents;not null"`
	Currency        string        `gorm:"column:currency;not null"`
	Scope           string        `gorm:"column:scope"`

	Status        enums.JobStatus     `gorm:"column:status;not null"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;not null"`
	PayoutStatus  enums.PayoutStatus  `gorm:"column:payout_status;not null"`

	AssignedInspectorID       *uuid.UUID `gorm:"column:assigned_inspector_id;type:uuid"`
	AgreedPriceCents          *int64     `gorm:"column:agreed_price_cents"`
	AgreedDate                *time.Time `gorm:"column:agreed_date"`
	ProviderPaymentReference  *string    `gorm:"column:provider_payment_reference"`
	ProviderTransferReference *string    `gorm:"column:provider_transfer_reference"`
	PayoutAttempts            int        `gorm:"column:payout_attempts;not null;default:0"`
	// RefundDue is set when a cancel owes the poster a refund the provider
	// has not yet accepted.
	RefundDue bool `gorm:"column:refund_due;not null;default:false"`

	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`
}

func (InspectionJob) TableName() string { return "inspection_jobs" }
