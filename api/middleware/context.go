package middleware

import (
	"context"

	"github.com/angelmondragon/inspectbid-backend/pkg/auth"
)

type contextKey string

const ctxActor contextKey = "actor"

// ActorFromContext returns the authenticated caller, or the zero Actor.
func ActorFromContext(ctx context.Context) auth.Actor {
	if ctx == nil {
		return auth.Actor{}
	}
	if v, ok := ctx.Value(ctxActor).(auth.Actor); ok {
		return v
	}
	return auth.Actor{}
}

// WithActor injects the caller into the context.
func WithActor(ctx context.Context, actor auth.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxActor, actor)
}
