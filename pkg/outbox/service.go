package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

const currentVersion = 1

type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

// ActorRefFrom converts a request actor into the event form; zero actors
// (webhooks, cron) produce nil.
func ActorRefFrom(actor auth.Actor) *ActorRef {
	if actor.IsZero() {
		return nil
	}
	return &ActorRef{UserID: actor.UserID, Role: actor.Role.String()}
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit writes the event inside tx so it commits or rolls back with the state
// change that produced it.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if !event.EventType.IsValid() {
		return errors.New("unknown outbox event type " + string(event.EventType))
	}
	if event.AggregateType == "" {
		event.AggregateType = enums.AggregateInspectionJob
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	envelope := PayloadEnvelope{
		Version:     currentVersion,
		EventID:     uuid.NewString(),
		EventType:   event.EventType,
		AggregateID: event.AggregateID,
		OccurredAt:  event.OccurredAt,
		Actor:       event.Actor,
		Data:        data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	row := models.OutboxEvent{
		ID:            uuid.MustParse(envelope.EventID),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       payload,
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_id":     envelope.EventID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID.String(),
		})
		s.logg.Info(logCtx, "outbox event queued")
	}
	return nil
}
