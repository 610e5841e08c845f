package outbox

import (
	"time"

	"github.com/google/uuid"
)

// JobAssignedEvent is emitted when a confirmed checkout assigns an inspector.
type JobAssignedEvent struct {
	JobID            uuid.UUID `json:"job_id"`
	BidID            uuid.UUID `json:"bid_id"`
	PosterID         uuid.UUID `json:"poster_id"`
	InspectorID      uuid.UUID `json:"inspector_id"`
	GrossCents       int64     `json:"gross_cents"`
	PlatformFeeCents int64     `json:"platform_fee_cents"`
	NetCents         int64     `json:"net_cents"`
	Currency         string    `json:"currency"`
	PaymentReference string    `json:"payment_reference"`
}

// JobCancelledEvent is emitted when a job is cancelled by its poster or an admin.
type JobCancelledEvent struct {
	JobID           uuid.UUID `json:"job_id"`
	PreviousStatus  string    `json:"previous_status"`
	RefundRequested bool      `json:"refund_requested"`
}

// JobCompletedEvent is emitted when the poster approves the inspection report.
type JobCompletedEvent struct {
	JobID       uuid.UUID `json:"job_id"`
	InspectorID uuid.UUID `json:"inspector_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// JobExpiredEvent is emitted when an unpaid open job ages out.
type JobExpiredEvent struct {
	JobID    uuid.UUID `json:"job_id"`
	PosterID uuid.UUID `json:"poster_id"`
}

// PaymentRefundedEvent is emitted once the provider confirms a refund.
type PaymentRefundedEvent struct {
	JobID            uuid.UUID `json:"job_id"`
	PaymentReference string    `json:"payment_reference"`
}

// PayoutPaidEvent is emitted when the inspector's share leaves escrow.
type PayoutPaidEvent struct {
	JobID             uuid.UUID `json:"job_id"`
	TransferReference string    `json:"transfer_reference"`
}
