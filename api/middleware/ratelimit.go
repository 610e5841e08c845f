package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"

	"github.com/angelmondragon/inspectbid-backend/api/responses"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

// Limiter is the part of *limiter.Limiter the middleware drives.
type Limiter interface {
	Get(ctx context.Context, key string) (limiter.Context, error)
}

// ParseRate reads rates such as "300-M" or "20-S".
func ParseRate(formatted string) (limiter.Rate, error) {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
	if err != nil {
		return limiter.Rate{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rate limit")
	}
	return rate, nil
}

// RateLimit throttles callers per actor, or per client IP before auth.
// Store failures let the request through.
func RateLimit(lim Limiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if lim == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scope := rateLimitScope(r)
			state, err := lim.Get(r.Context(), scope)
			if err != nil {
				if logg != nil {
					ctx := logg.WithFields(r.Context(), map[string]any{"rate_limit_scope": scope, "error": err.Error()})
					logg.Warn(ctx, "rate limit check failed")
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(state.Limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(state.Remaining, 10))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(state.Reset, 10))

			if state.Reached {
				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter(state.Reset, time.Now()), 10))
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter is the whole seconds until reset, never less than one.
func retryAfter(reset int64, now time.Time) int64 {
	if wait := reset - now.Unix(); wait > 1 {
		return wait
	}
	return 1
}

func rateLimitScope(r *http.Request) string {
	if actor := ActorFromContext(r.Context()); !actor.IsZero() {
		return "user:" + actor.UserID.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
