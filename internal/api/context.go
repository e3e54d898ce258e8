package api

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const UserIDKey contextKey = "userID"

func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// ActorIDFromContext returns the authenticated caller's ID for audit
// attribution, or nil for unauthenticated/system calls.
func ActorIDFromContext(ctx context.Context) *uuid.UUID {
	raw, ok := GetUserIDFromContext(ctx)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
