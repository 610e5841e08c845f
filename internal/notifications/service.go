// Package notifications stores the in-app inbox. Job and escrow services
// call Notify after their transaction commits; a failed notification never
// rolls back money movement.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/pagination"
	"github.com/google/uuid"
)

type Service interface {
	Notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationType, payload any) error
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type ListParams struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
}

type ListResult struct {
	Items       []models.Notification `json:"items"`
	Cursor      string                `json:"cursor"`
	UnreadCount int64                 `json:"unread_count"`
}

type notificationText struct{ title, body string }

var messages = map[enums.NotificationType]notificationText{
	// poster
	enums.NotificationBidReceived:     {"New bid received", "An inspector bid on your inspection job."},
	enums.NotificationRefundCompleted: {"Refund completed", "Your escrow payment has been refunded."},
	enums.NotificationReportSubmitted: {"Report submitted", "The inspector submitted a report for your review."},
	// inspector
	enums.NotificationBidAccepted:     {"Bid accepted", "Your bid was accepted and payment is held in escrow. You are assigned to the job."},
	enums.NotificationBidDeclined:     {"Bid declined", "Your bid was not selected for this inspection job."},
	enums.NotificationPaymentReceived: {"Payment sent", "Your payout for the inspection job has been sent."},
	enums.NotificationPayoutOnboard:   {"Finish payout setup", "Complete payout onboarding to receive payment for your completed inspection."},
	// either side
	enums.NotificationJobCancelled: {"Job cancelled", "An inspection job you were involved with was cancelled."},
}

type service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	return &service{repo: repo, now: func() time.Time { return time.Now().UTC() }}, nil
}

func requireUser(id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	return nil
}

func (s *service) Notify(ctx context.Context, userID uuid.UUID, kind enums.NotificationType, payload any) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	text, ok := messages[kind]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown notification type %q", kind))
	}

	n := &models.Notification{
		UserID:    userID,
		Type:      kind,
		Title:     text.title,
		Message:   text.body,
		CreatedAt: s.now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", kind, err)
		}
		n.Payload = raw
	}
	if err := s.repo.Create(ctx, n); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create notification")
	}
	return nil
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if err := requireUser(params.UserID); err != nil {
		return nil, err
	}
	q := listQuery{UserID: params.UserID, Limit: params.Limit, UnreadOnly: params.UnreadOnly}
	if params.Cursor != "" {
		after, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		q.After = after
	}

	items, next, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	unread, err := s.repo.CountUnread(ctx, params.UserID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count unread notifications")
	}
	return &ListResult{Items: items, Cursor: next, UnreadCount: unread}, nil
}

func (s *service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if err := requireUser(userID); err != nil {
		return err
	}
	if notificationID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	found, err := s.repo.MarkRead(ctx, userID, notificationID, s.now())
	switch {
	case err != nil:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	case !found:
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if err := requireUser(userID); err != nil {
		return 0, err
	}
	n, err := s.repo.MarkAllRead(ctx, userID, s.now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return n, nil
}
