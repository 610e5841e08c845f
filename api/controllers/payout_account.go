package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/inspectbid-backend/api/middleware"
	"github.com/angelmondragon/inspectbid-backend/api/responses"
	"github.com/angelmondragon/inspectbid-backend/internal/accounts"
	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

type payoutOnboarder interface {
	StartOnboarding(ctx context.Context, actor auth.Actor) (*accounts.Onboarding, error)
}

// StartPayoutOnboarding returns the hosted onboarding link for the calling
// inspector, creating their connected account on first use.
func StartPayoutOnboarding(svc payoutOnboarder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "accounts service unavailable"))
			return
		}
		onboarding, err := svc.StartOnboarding(r.Context(), middleware.ActorFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, onboarding)
	}
}
