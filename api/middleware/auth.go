package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/inspectbid-backend/api/responses"
	pkgAuth "github.com/angelmondragon/inspectbid-backend/pkg/auth"
	"github.com/angelmondragon/inspectbid-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/inspectbid-backend/pkg/errors"
	"github.com/angelmondragon/inspectbid-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the actor.
// A bad JWT config fails every request closed.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	verifier, setupErr := pkgAuth.NewVerifier(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if setupErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, setupErr, "auth not configured"))
				return
			}
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			actor, err := verifier.Verify(token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithActorRole(logg.WithUserID(ctx, actor.UserID.String()), string(actor.Role))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <jwt>" in any case, or a bare token.
func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if scheme, rest, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, "bearer") {
		header = strings.TrimSpace(rest)
	}
	return header, header != ""
}
