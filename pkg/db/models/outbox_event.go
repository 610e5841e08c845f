package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
)

// OutboxEvent is a job or payment state change written in the same
// transaction as the change itself. Payload holds an outbox.PayloadEnvelope.
// A row is parked when AttemptCount reaches the publisher's max attempts.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;not null"`
	AggregateID   uuid.UUID                 `gorm:"column:aggregate_id;type:uuid;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

// LastAttempt reports whether one more failure would park the row.
func (e OutboxEvent) LastAttempt(maxAttempts int) bool {
	return e.AttemptCount+1 >= maxAttempts
}
