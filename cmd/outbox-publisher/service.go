package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID, at time.Time) error
	RecordFailure(tx *gorm.DB, id uuid.UUID, cause error) error
	Park(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	PubSub     pubSubClient
	Repository outboxRepository
	// PublisherFactory overrides the Pub/Sub publisher, mainly for tests.
	PublisherFactory publisherFactory
}

// Service drains outbox_events onto the escrow topic. Events for one job are
// published in created order with the job id as ordering key.
type Service struct {
	logg      *logger.Logger
	db        dbClient
	repo      outboxRepository
	pubsub    pubSubClient
	publisher publisherFactory

	topic        string
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	required := []struct {
		missing bool
		what    string
	}{
		{params.Config == nil, "config"},
		{params.Logger == nil, "logger"},
		{params.DB == nil, "database client"},
		{params.PubSub == nil, "pubsub client"},
		{params.Repository == nil, "outbox repository"},
	}
	for _, r := range required {
		if r.missing {
			return nil, fmt.Errorf("outbox publisher: %s is required", r.what)
		}
	}
	if params.Config.PubSub.EscrowTopic == "" {
		return nil, errors.New("outbox publisher: escrow topic is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = newTopicPublishers(params.PubSub).get
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		publisher:    factory,
		topic:        params.Config.PubSub.EscrowTopic,
		batchSize:    positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval: positiveOr(time.Duration(cfg.PollIntervalMS)*time.Millisecond, defaultPollInterval),
	}, nil
}

func positiveOr[T int | time.Duration](v, fallback T) T {
	if v > 0 {
		return v
	}
	return fallback
}

// Run polls until ctx is cancelled. A batch that claimed rows is followed
// straight away by the next one; an idle poll waits pollInterval, and failing
// batches back off exponentially.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub ping failed: %w", err)
	}

	var failures retry.Backoff
	for {
		processed, err := s.processBatch(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}

		wait := s.pollInterval
		switch {
		case err != nil:
			if failures == nil {
				failures = failureBackoff(s.pollInterval)
			}
			wait, _ = failures.Next()
			s.logg.Error(s.logg.WithField(ctx, "retry_in_ms", wait.Milliseconds()), "outbox batch failed", err)
		case processed:
			failures = nil
			continue
		default:
			failures = nil
		}
		if err := pause(ctx, wait); err != nil {
			return err
		}
	}
}
