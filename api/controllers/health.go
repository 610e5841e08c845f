package controllers

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/inspectbid-backend/api/responses"
	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

const readyTimeout = 2 * time.Second

// Pinger is anything the readiness check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-InspectBid-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings every dependency and names all that failed, so a readiness
// failure shows at once whether Stripe-facing writes can land.
func HealthReady(cfg *config.Config, logg *logger.Logger, deps map[string]Pinger) http.HandlerFunc {
	names := make([]string, 0, len(deps))
	for name, dep := range deps {
		if dep != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-InspectBid-Env", cfg.App.Env)
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		var failed []string
		var errs error
		for _, name := range names {
			if err := deps[name].Ping(ctx); err != nil {
				failed = append(failed, name)
				errs = multierr.Append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
		if errs != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, errs, "dependencies unavailable").
				WithDetails(map[string]any{"failed": failed}))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checked": names})
	}
}
