package auth

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

type contextKey string

const actorKey contextKey = "actor"

const maxActorLength = 128

// ContextWithActor returns a new context that carries the identity recorded as updatedBy.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the acting identity from the context, if any.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	actor, ok := ctx.Value(actorKey).(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}

// ActorOrDefault returns the context actor or fallback when none is set.
func ActorOrDefault(ctx context.Context, fallback string) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor
	}
	return fallback
}

// NormalizeActor trims a client-supplied identity and rejects values unfit for the audit trail.
func NormalizeActor(raw string) (string, error) {
	actor := strings.TrimSpace(raw)
	if actor == "" {
		return "", nil
	}
	if len(actor) > maxActorLength {
		return "", fmt.Errorf("actor exceeds %d characters", maxActorLength)
	}
	for _, r := range actor {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("actor contains control characters")
		}
	}
	return actor, nil
}
