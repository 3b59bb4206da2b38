package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightcart/storefront-backend/internal/catalog"
	"github.com/brightcart/storefront-backend/pkg/config"
	dbpkg "github.com/brightcart/storefront-backend/pkg/db"
	"github.com/brightcart/storefront-backend/pkg/db/models"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
	"github.com/brightcart/storefront-backend/pkg/money"
	pkgredis "github.com/brightcart/storefront-backend/pkg/redis"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns per-user cart state. Every mutation runs under the per-cart
// lock and lands through a version compare-and-swap, so concurrent writers
// are serialized instead of overwriting each other.
type Service interface {
	GetCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*models.Cart, error)
	UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*models.Cart, error)
	RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error)
	ClearCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
	SyncPrices(ctx context.Context, userID uuid.UUID) (*models.Cart, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	catalog catalog.Lookup
	locker  pkgredis.CartLocker
	cfg     config.CheckoutConfig
}

// NewService builds a cart service backed by the provided stack.
func NewService(
	repo Repository,
	tx txRunner,
	lookup catalog.Lookup,
	locker pkgredis.CartLocker,
	cfg config.CheckoutConfig,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if lookup == nil {
		return nil, fmt.Errorf("catalog lookup required")
	}
	if locker == nil {
		return nil, fmt.Errorf("cart locker required")
	}
	return &service{
		repo:    repo,
		tx:      tx,
		catalog: lookup,
		locker:  locker,
		cfg:     cfg,
	}, nil
}

// GetCart returns the user's cart, or an empty representation when the user
// has never mutated one. It never fails for a valid user id.
func (s *service) GetCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	cart, err := s.repo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	return cart, nil
}

func (s *service) AddItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity must be at least 1").
			WithDetails(map[string]any{"quantity": quantity})
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeProductUnavailable, "product is not available").
			WithDetails(map[string]any{"product_id": productID})
	}

	return s.mutate(ctx, userID, func(cart *models.Cart) (bool, error) {
		requested := quantity
		if line := cart.Item(productID); line != nil {
			requested += line.Quantity
		}
		if product.Stock < requested {
			return false, insufficientStock(productID, requested, product.Stock)
		}

		if line := cart.Item(productID); line != nil {
			// Merge preserves the added-at price snapshot.
			line.Quantity = requested
			line.LineTotalCents = money.LineTotal(line.Quantity, line.UnitPriceCents)
			return true, nil
		}

		cart.Items = append(cart.Items, models.CartItem{
			ProductID:      productID,
			ProductTitle:   product.Title,
			ProductImage:   product.ImageURL,
			Quantity:       quantity,
			UnitPriceCents: product.PriceCents,
			LineTotalCents: money.LineTotal(quantity, product.PriceCents),
		})
		return true, nil
	})
}

func (s *service) UpdateItem(ctx context.Context, userID, productID uuid.UUID, quantity int) (*models.Cart, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidQuantity, "quantity cannot be negative").
			WithDetails(map[string]any{"quantity": quantity})
	}
	if quantity == 0 {
		return s.RemoveItem(ctx, userID, productID)
	}

	// Stock is checked against the live catalog, not the snapshot.
	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product.Stock < quantity {
		return nil, insufficientStock(productID, quantity, product.Stock)
	}

	return s.mutate(ctx, userID, func(cart *models.Cart) (bool, error) {
		line := cart.Item(productID)
		if line == nil {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "product is not in the cart").
				WithDetails(map[string]any{"product_id": productID})
		}
		line.Quantity = quantity
		line.LineTotalCents = money.LineTotal(quantity, line.UnitPriceCents)
		return true, nil
	})
}

// RemoveItem is idempotent: removing an absent product returns the cart
// unchanged rather than an error.
func (s *service) RemoveItem(ctx context.Context, userID, productID uuid.UUID) (*models.Cart, error) {
	return s.mutate(ctx, userID, func(cart *models.Cart) (bool, error) {
		kept := cart.Items[:0]
		found := false
		for _, item := range cart.Items {
			if item.ProductID == productID {
				found = true
				continue
			}
			kept = append(kept, item)
		}
		cart.Items = kept
		return found, nil
	})
}

func (s *service) ClearCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	return s.mutate(ctx, userID, func(cart *models.Cart) (bool, error) {
		if len(cart.Items) == 0 {
			return false, nil
		}
		cart.Items = nil
		return true, nil
	})
}

// SyncPrices rewrites every snapshot from the live catalog. It never touches
// quantities, and it is the only operation allowed to change displayed totals
// without an item-level user action.
func (s *service) SyncPrices(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	return s.mutate(ctx, userID, func(cart *models.Cart) (bool, error) {
		changed := false
		for i := range cart.Items {
			line := &cart.Items[i]
			product, err := s.catalog.GetProduct(ctx, line.ProductID)
			if err != nil {
				if pkgerrors.HasCode(err, pkgerrors.CodeProductUnavailable) {
					// A delisted product keeps its snapshot; the preparer
					// will flag it at checkout time.
					continue
				}
				return false, err
			}
			if line.UnitPriceCents != product.PriceCents || line.ProductTitle != product.Title {
				changed = true
			}
			line.ProductTitle = product.Title
			line.ProductImage = product.ImageURL
			line.UnitPriceCents = product.PriceCents
			line.LineTotalCents = money.LineTotal(line.Quantity, product.PriceCents)
		}
		return changed, nil
	})
}

// mutate loads the cart under the per-cart lock, applies fn, and persists the
// result through a version compare-and-swap. When fn reports no change the
// cart is returned as-is and the version does not move.
func (s *service) mutate(ctx context.Context, userID uuid.UUID, fn func(cart *models.Cart) (bool, error)) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}

	cart, err := s.ensureCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	lock, err := s.acquireLock(ctx, cart.ID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	// Reload under the lock so fn sees the latest committed state.
	cart, err = s.repo.FindByID(ctx, cart.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	changed, err := fn(cart)
	if err != nil {
		return nil, err
	}
	if !changed {
		return cart, nil
	}

	if err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.BumpVersion(ctx, cart.ID, cart.Version); err != nil {
			return err
		}
		return txRepo.ReplaceItems(ctx, cart.ID, cart.Items)
	}); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "cart was modified concurrently")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cart")
	}

	updated, err := s.repo.FindByID(ctx, cart.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart")
	}
	return updated, nil
}

// ensureCart returns the user's cart row, creating it lazily. A concurrent
// create loses on the unique user index and falls back to the winner's row.
func (s *service) ensureCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	cart, err := s.repo.FindByUser(ctx, userID)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}

	created, err := s.repo.Create(ctx, &models.Cart{UserID: userID})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_carts_user") {
			cart, findErr := s.repo.FindByUser(ctx, userID)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load cart")
			}
			return cart, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart")
	}
	return created, nil
}

func (s *service) acquireLock(ctx context.Context, cartID uuid.UUID) (*pkgredis.Lock, error) {
	lock, err := s.locker.AcquireWait(ctx, cartID, s.cfg.CartMutationLockTTL, s.cfg.CartMutationLockWait)
	if err != nil {
		if errors.Is(err, pkgredis.ErrLockHeld) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart is busy, retry shortly")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire cart lock")
	}
	return lock, nil
}

func insufficientStock(productID uuid.UUID, requested, available int) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock,
		fmt.Sprintf("requested %d, only %d in stock", requested, available)).
		WithDetails(map[string]any{
			"product_id": productID,
			"requested":  requested,
			"available":  available,
		})
}
