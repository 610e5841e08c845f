package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const providerStripe = "stripe"

// EventLog is the durable record of webhook deliveries. A row with
// processed_at set is never dispatched again.
type EventLog interface {
	Record(ctx context.Context, eventID, eventType string, payload json.RawMessage) (*models.PaymentWebhookEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

type eventLog struct {
	db  *gorm.DB
	now func() time.Time
}

func NewEventLog(db *gorm.DB) EventLog {
	return &eventLog{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Record inserts the delivery if it is new and returns the stored row either way.
func (l *eventLog) Record(ctx context.Context, eventID, eventType string, payload json.RawMessage) (*models.PaymentWebhookEvent, error) {
	row := models.PaymentWebhookEvent{
		ID:              uuid.New(),
		Provider:        providerStripe,
		ProviderEventID: eventID,
		EventType:       eventType,
		Payload:         payload,
	}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
	if err != nil {
		return nil, err
	}

	var stored models.PaymentWebhookEvent
	if err := l.db.WithContext(ctx).
		Where("provider = ? AND provider_event_id = ?", providerStripe, eventID).
		Take(&stored).Error; err != nil {
		return nil, err
	}
	return &stored, nil
}

func (l *eventLog) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return l.db.WithContext(ctx).
		Model(&models.PaymentWebhookEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed_at":     l.now(),
			"processing_error": nil,
		}).Error
}

func (l *eventLog) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	msg := cause.Error()
	return l.db.WithContext(ctx).
		Model(&models.PaymentWebhookEvent{}).
		Where("id = ? AND processed_at IS NULL", id).
		Update("processing_error", msg).Error
}
