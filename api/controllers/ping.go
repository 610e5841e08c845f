package controllers

import (
	"net/http"

	"github.com/angelmondragon/inspectbid-backend/api/middleware"
	"github.com/angelmondragon/inspectbid-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

// PrivatePing echoes the authenticated actor, which is handy when checking
// tokens minted by the identity service.
func PrivatePing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := middleware.ActorFromContext(r.Context())
		payload := map[string]string{"scope": "private", "status": "ok"}
		if !actor.IsZero() {
			payload["user_id"] = actor.UserID.String()
			payload["role"] = string(actor.Role)
		}
		responses.WriteSuccess(w, payload)
	}
}
