package middleware

import (
	"context"

	"github.com/google/uuid"

	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
)

type userIDKey struct{}

// UserIDFromContext returns the authenticated shopper set by Identity.
func UserIDFromContext(ctx context.Context) (uuid.UUID, error) {
	userID, ok := ctx.Value(userIDKey{}).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "no authenticated user in request context")
	}
	return userID, nil
}

func withUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}
