package auth

import (
	"github.com/angelmondragon/inspectbid-backend/pkg/enums"
	"github.com/google/uuid"
)

// Actor is the authenticated caller of an operation. It is built once per
// request from verified claims and passed explicitly into services.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

// ActorFromClaims converts verified claims into an Actor.
func ActorFromClaims(claims *AccessTokenClaims) Actor {
	if claims == nil {
		return Actor{}
	}
	return Actor{UserID: claims.UserID, Role: claims.Role}
}

func (a Actor) IsZero() bool {
	return a.UserID == uuid.Nil
}

func (a Actor) IsAdmin() bool {
	return a.Role == enums.RoleAdmin
}

// Is reports whether the actor is the given user.
func (a Actor) Is(userID uuid.UUID) bool {
	return a.UserID != uuid.Nil && a.UserID == userID
}
