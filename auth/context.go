package auth

import (
	"context"

	"github.com/warp/dues-engine/generic"
)

type contextKey string

const contextKeyActor contextKey = "auth.actor"

// WithIdentity stores the authenticated caller in ctx.
func WithIdentity(ctx context.Context, subject string, role Role) context.Context {
	return context.WithValue(ctx, contextKeyActor, generic.Actor{
		ID:         subject,
		Role:       string(role),
		Privileged: role.Privileged(),
	})
}

// ActorFromContext returns the caller stored by WithIdentity.
func ActorFromContext(ctx context.Context) (generic.Actor, bool) {
	if ctx == nil {
		return generic.Actor{}, false
	}
	actor, ok := ctx.Value(contextKeyActor).(generic.Actor)
	return actor, ok
}
