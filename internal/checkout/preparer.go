package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/brightcart/storefront-backend/internal/cart"
	"github.com/brightcart/storefront-backend/internal/catalog"
	"github.com/brightcart/storefront-backend/pkg/config"
	"github.com/brightcart/storefront-backend/pkg/db/models"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
	"github.com/brightcart/storefront-backend/pkg/money"
)

// Unavailable reasons reported per line.
const (
	ReasonInactive          = "inactive"
	ReasonInsufficientStock = "insufficient_stock"
	ReasonNotFound          = "not_found"
)

// PreparedLine pairs the cart snapshot with the live catalog view of one
// line. LineTotalCents is computed from the live price, which is the amount
// the payment intent will carry.
type PreparedLine struct {
	ProductID         uuid.UUID `json:"product_id"`
	ProductTitle      string    `json:"product_title"`
	ProductImage      *string   `json:"product_image,omitempty"`
	Quantity          int       `json:"quantity"`
	SnapshotUnitCents int64     `json:"snapshot_unit_cents"`
	LiveUnitCents     int64     `json:"live_unit_cents"`
	LineTotalCents    int64     `json:"line_total_cents"`
}

// UnavailableItem names a line that blocks checkout and why.
type UnavailableItem struct {
	ProductID uuid.UUID `json:"product_id"`
	Reason    string    `json:"reason"`
	Requested int       `json:"requested,omitempty"`
	Available int       `json:"available,omitempty"`
}

// PriceDriftNotice reports a snapshot that moved beyond the configured
// tolerance. Advisory only; drift never blocks checkout.
type PriceDriftNotice struct {
	ProductID         uuid.UUID `json:"product_id"`
	SnapshotUnitCents int64     `json:"snapshot_unit_cents"`
	LiveUnitCents     int64     `json:"live_unit_cents"`
	DriftBPS          int64     `json:"drift_bps"`
}

// Preparation is the read-only checkout readiness view. Preparing has no
// side effects and can be repeated freely.
type Preparation struct {
	CartID               uuid.UUID          `json:"cart_id"`
	CartVersion          int64              `json:"cart_version"`
	Lines                []PreparedLine     `json:"lines"`
	SubtotalCents        int64              `json:"subtotal_cents"`
	AvailableForCheckout bool               `json:"available_for_checkout"`
	Unavailable          []UnavailableItem  `json:"unavailable,omitempty"`
	PriceDrift           []PriceDriftNotice `json:"price_drift,omitempty"`
}

// Preparer computes checkout readiness against the live catalog.
type Preparer interface {
	Prepare(ctx context.Context, c *models.Cart) (*Preparation, error)
	SubtotalCents(ctx context.Context, cartID uuid.UUID) (int64, error)
}

type preparer struct {
	cartRepo cart.Repository
	catalog  catalog.Lookup
	driftBPS int64
}

// NewPreparer wires the checkout preparer.
func NewPreparer(cartRepo cart.Repository, lookup catalog.Lookup, cfg config.CheckoutConfig) (Preparer, error) {
	if cartRepo == nil {
		return nil, errors.New("cart repository required")
	}
	if lookup == nil {
		return nil, errors.New("catalog lookup required")
	}
	return &preparer{
		cartRepo: cartRepo,
		catalog:  lookup,
		driftBPS: cfg.PriceDriftToleranceBPS,
	}, nil
}

// Prepare evaluates every line against the live catalog. A line is
// unavailable iff the product is gone, inactive, or short on stock; no
// quantity is ever reduced automatically.
func (p *preparer) Prepare(ctx context.Context, c *models.Cart) (*Preparation, error) {
	if c == nil || len(c.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeEmptyCart, "cart has no items")
	}

	prep := &Preparation{
		CartID:      c.ID,
		CartVersion: c.Version,
		Lines:       make([]PreparedLine, 0, len(c.Items)),
	}
	subtotal := decimal.Zero

	for _, item := range c.Items {
		product, err := p.catalog.GetProduct(ctx, item.ProductID)
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeProductUnavailable) {
				prep.Unavailable = append(prep.Unavailable, UnavailableItem{
					ProductID: item.ProductID,
					Reason:    ReasonNotFound,
				})
				continue
			}
			return nil, err
		}

		if !product.IsActive {
			prep.Unavailable = append(prep.Unavailable, UnavailableItem{
				ProductID: item.ProductID,
				Reason:    ReasonInactive,
			})
			continue
		}
		if product.Stock < item.Quantity {
			prep.Unavailable = append(prep.Unavailable, UnavailableItem{
				ProductID: item.ProductID,
				Reason:    ReasonInsufficientStock,
				Requested: item.Quantity,
				Available: product.Stock,
			})
			continue
		}

		line := PreparedLine{
			ProductID:         item.ProductID,
			ProductTitle:      product.Title,
			ProductImage:      product.ImageURL,
			Quantity:          item.Quantity,
			SnapshotUnitCents: item.UnitPriceCents,
			LiveUnitCents:     product.PriceCents,
			LineTotalCents:    money.LineTotal(item.Quantity, product.PriceCents),
		}
		prep.Lines = append(prep.Lines, line)
		subtotal = subtotal.Add(money.FromCents(line.LineTotalCents))

		if !money.WithinTolerance(item.UnitPriceCents, product.PriceCents, p.driftBPS) {
			prep.PriceDrift = append(prep.PriceDrift, PriceDriftNotice{
				ProductID:         item.ProductID,
				SnapshotUnitCents: item.UnitPriceCents,
				LiveUnitCents:     product.PriceCents,
				DriftBPS:          money.DriftBPS(item.UnitPriceCents, product.PriceCents),
			})
		}
	}

	prep.SubtotalCents = money.ToCents(subtotal)
	prep.AvailableForCheckout = len(prep.Unavailable) == 0
	return prep, nil
}

// SubtotalCents re-derives the chargeable amount for the cart; the payment
// coordinator calls this instead of trusting the caller's number.
func (p *preparer) SubtotalCents(ctx context.Context, cartID uuid.UUID) (int64, error) {
	c, err := p.cartRepo.FindByID(ctx, cartID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("cart %s not found", cartID))
		}
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	prep, err := p.Prepare(ctx, c)
	if err != nil {
		return 0, err
	}
	if !prep.AvailableForCheckout {
		return 0, stockUnavailable(prep.Unavailable)
	}
	return prep.SubtotalCents, nil
}

func stockUnavailable(unavailable []UnavailableItem) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeStockUnavailable, "one or more items cannot be purchased").
		WithDetails(map[string]any{"unavailable": unavailable})
}
