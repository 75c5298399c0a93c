package shared

import (
	"context"

	"github.com/armonia-contable/armonia/internal/ledger"
)

type actorContextKey struct{}

// ContextWithActor stores the caller identity in context.
func ContextWithActor(ctx context.Context, actor ledger.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the caller identity from context.
func ActorFromContext(ctx context.Context) (ledger.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(ledger.Actor)
	return actor, ok
}
