package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentWebhookEvent is the durable log of provider deliveries.
// (provider, provider_event_id) is unique.
type PaymentWebhookEvent struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Provider        string          `gorm:"column:provider;not null"`
	ProviderEventID string          `gorm:"column:provider_event_id;not null"`
	EventType       string          `gorm:"column:event_type;not null"`
	Payload         json.RawMessage `gorm:"column:payload;type:jsonb"`
	ProcessedAt     *time.Time      `gorm:"column:processed_at"`
	ProcessingError *string         `gorm:"column:processing_error"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentWebhookEvent) TableName() string { return "payment_webhook_events" }
