package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/inspectbid-backend/api/middleware"
	"github.com/angelmondragon/inspectbid-backend/api/responses"
	"github.com/angelmondragon/inspectbid-backend/api/validators"
	"github.com/angelmondragon/inspectbid-backend/internal/notifications"
	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	"github.com/angelmondragon/inspectbid-backend/pkg/db/models"
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

type notificationView struct {
	ID        uuid.UUID              `json:"id"`
	Type      enums.NotificationType `json:"type"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Payload   json.RawMessage        `json:"payload,omitempty"`
	ReadAt    *time.Time             `json:"read_at,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

func viewNotification(n models.Notification) notificationView {
	return notificationView{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		Payload:   n.Payload,
		ReadAt:    n.ReadAt,
		CreatedAt: n.CreatedAt,
	}
}

// inboxOwner resolves the caller for the notification endpoints and writes
// the error response itself when it cannot.
func inboxOwner(svc notifications.Service, logg *logger.Logger, w http.ResponseWriter, r *http.Request) (auth.Actor, bool) {
	if svc == nil {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "notifications service unavailable"))
		return auth.Actor{}, false
	}
	actor := middleware.ActorFromContext(r.Context())
	if actor.IsZero() {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "actor identity missing"))
		return auth.Actor{}, false
	}
	return actor, true
}

// ListNotifications pages the caller's inbox, newest first.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := inboxOwner(svc, logg, w, r)
		if !ok {
			return
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), notifications.ListParams{
			UserID:     actor.UserID,
			Limit:      page.Limit,
			Cursor:     page.Cursor,
			UnreadOnly: unreadOnly,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		views := make([]notificationView, len(result.Items))
		for i, n := range result.Items {
			views[i] = viewNotification(n)
		}
		responses.WriteSuccess(w, map[string]any{
			"items":        views,
			"cursor":       result.Cursor,
			"unread_count": result.UnreadCount,
		})
	}
}

func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := inboxOwner(svc, logg, w, r)
		if !ok {
			return
		}
		id, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.MarkRead(r.Context(), actor.UserID, id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]bool{"read": true})
	}
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := inboxOwner(svc, logg, w, r)
		if !ok {
			return
		}
		updated, err := svc.MarkAllRead(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"updated": updated})
	}
}
