package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightcart/storefront-backend/pkg/db/models"
)

// ErrVersionConflict signals a stale writer lost a compare-and-swap on the
// cart version. The caller should reload and retry rather than overwrite.
var ErrVersionConflict = errors.New("cart version conflict")

// Repository defines the persistence surface required by the cart service
// and the checkout orchestrator.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) (*models.Cart, error)
	// BumpVersion performs the compare-and-swap on the optimistic token.
	BumpVersion(ctx context.Context, cartID uuid.UUID, expectedVersion int64) error
	ReplaceItems(ctx context.Context, cartID uuid.UUID, items []models.CartItem) error
}
