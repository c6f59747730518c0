package domain

import (
	"context"

	"github.com/google/uuid"
)

type actorKey struct{}

// WithActor returns a context acting on behalf of userID; repositories stamp it on saved rows
func WithActor(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFrom returns the user set by WithActor
func ActorFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(actorKey{}).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
