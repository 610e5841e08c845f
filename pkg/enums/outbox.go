package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateInspectionJob OutboxAggregateType = "inspection_job"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateInspectionJob,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// OutboxEventType names escrow domain events shipped to Pub/Sub.
type OutboxEventType string

const (
	EventJobAssigned     OutboxEventType = "job_assigned"
	EventJobCancelled    OutboxEventType = "job_cancelled"
	EventJobCompleted    OutboxEventType = "job_completed"
	EventJobExpired      OutboxEventType = "job_expired"
	EventPaymentRefunded OutboxEventType = "payment_refunded"
	EventPayoutPaid      OutboxEventType = "payout_paid"
)

var validEventTypes = []OutboxEventType{
	EventJobAssigned,
	EventJobCancelled,
	EventJobCompleted,
	EventJobExpired,
	EventPaymentRefunded,
	EventPayoutPaid,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
