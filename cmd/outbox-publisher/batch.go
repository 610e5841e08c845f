package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/outbox"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// nonRetryableError marks failures that another attempt cannot fix.
type nonRetryableError struct {
	err error
}

func (e nonRetryableError) Error() string { return e.err.Error() }
func (e nonRetryableError) Unwrap() error { return e.err }

// processBatch publishes one locked batch. Once an event for a job fails, the
// job's later events in the batch are left untouched so subscribers never see
// a payout before the assignment that preceded it.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.ClaimBatch(tx, s.batchSize, s.maxAttempts)
		if err != nil || len(events) == 0 {
			return err
		}
		processed = true

		pub := s.publisher(s.topic)
		blocked := map[uuid.UUID]bool{}
		for _, event := range events {
			if blocked[event.AggregateID] {
				continue
			}
			if err := s.deliver(ctx, tx, pub, event); err != nil {
				var later retryLater
				if !errors.As(err, &later) {
					return err
				}
				blocked[event.AggregateID] = true
			}
		}
		// paused ordering keys stay paused until resumed
		for key := range blocked {
			if pub != nil {
				pub.ResumePublish(key.String())
			}
		}
		return nil
	})
	return processed, err
}

// retryLater is returned by deliver after the row was marked failed.
type retryLater struct{ error }

func (s *Service) deliver(ctx context.Context, tx *gorm.DB, pub publisher, event models.OutboxEvent) error {
	envelope, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return s.park(ctx, tx, event, outbox.PayloadEnvelope{}, err)
	}

	fields := s.eventFields(event, envelope)
	err = s.publish(ctx, pub, event, envelope)
	if err == nil {
		if err := s.repo.MarkPublished(tx, event.ID, time.Now()); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event published")
		return nil
	}

	var fatal nonRetryableError
	if errors.As(err, &fatal) {
		return s.park(ctx, tx, event, envelope, err)
	}
	if event.LastAttempt(s.maxAttempts) {
		return s.park(ctx, tx, event, envelope, fmt.Errorf("max publish attempts reached: %w", err))
	}

	fields["attempt_count"] = event.AttemptCount + 1
	fields["error"] = err.Error()
	s.logg.Warn(s.logg.WithFields(ctx, fields), "outbox publish failed")
	if markErr := s.repo.RecordFailure(tx, event.ID, err); markErr != nil {
		return fmt.Errorf("record failure %s: %w", event.ID, markErr)
	}
	return retryLater{err}
}

// park exhausts the row's attempts and raises an alert. A parked escrow event
// blocks nothing else but needs a person to replay it.
func (s *Service) park(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, envelope outbox.PayloadEnvelope, cause error) error {
	s.logg.Alert(s.logg.WithFields(ctx, s.eventFields(event, envelope)), "outbox event parked", cause)
	if err := s.repo.Park(tx, event.ID, cause, s.maxAttempts); err != nil {
		return fmt.Errorf("park %s: %w", event.ID, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, pub publisher, event models.OutboxEvent, envelope outbox.PayloadEnvelope) error {
	if pub == nil {
		return nonRetryableError{err: fmt.Errorf("no publisher for topic %s", s.topic)}
	}
	ctx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       envelope.EventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
	if result == nil {
		return nonRetryableError{err: fmt.Errorf("publisher returned no result for topic %s", s.topic)}
	}
	_, err := result.Get(ctx)
	return err
}

func (s *Service) eventFields(event models.OutboxEvent, envelope outbox.PayloadEnvelope) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"job_id":         event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
		"topic":          s.topic,
	}
	if envelope.EventID != "" {
		fields["event_id"] = envelope.EventID
		fields["occurred_at"] = envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}
