package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightcart/storefront-backend/internal/catalog"
	"github.com/brightcart/storefront-backend/pkg/config"
	"github.com/brightcart/storefront-backend/pkg/db/models"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
	pkgredis "github.com/brightcart/storefront-backend/pkg/redis"
)

func TestGetCartReturnsEmptyRepresentation(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	svc := newTestService(&stubRepo{}, stubLookup{}, &stubLocker{})

	cart, err := svc.GetCart(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.UserID != userID || len(cart.Items) != 0 {
		t.Fatalf("expected empty cart for user, got %+v", cart)
	}
}

func TestAddItemCreatesCartAndSnapshotsPrice(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	repo := &stubRepo{}
	lookup := stubLookup{productID: {ID: productID, Title: "Moka Pot", PriceCents: 1500, Stock: 10, IsActive: true}}
	svc := newTestService(repo, lookup, &stubLocker{})

	cart, err := svc.AddItem(context.Background(), uuid.New(), productID, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := cart.Item(productID)
	if line == nil {
		t.Fatal("expected product line in cart")
	}
	if line.Quantity != 2 || line.UnitPriceCents != 1500 || line.LineTotalCents != 3000 {
		t.Fatalf("unexpected line: %+v", line)
	}
	if cart.Version != 1 {
		t.Fatalf("expected version bump to 1, got %d", cart.Version)
	}
	if cart.SubtotalCents() != 3000 {
		t.Fatalf("unexpected subtotal: %d", cart.SubtotalCents())
	}
}

func TestAddItemMergePreservesSnapshot(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productID := uuid.New()
	repo := &stubRepo{cart: cartWithLine(userID, productID, 2, 1000)}
	// Catalog price has moved since the line was added.
	lookup := stubLookup{productID: {ID: productID, Title: "Moka Pot", PriceCents: 1200, Stock: 10, IsActive: true}}
	svc := newTestService(repo, lookup, &stubLocker{})

	cart, err := svc.AddItem(context.Background(), userID, productID, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := cart.Item(productID)
	if line.Quantity != 3 {
		t.Fatalf("expected merged quantity 3, got %d", line.Quantity)
	}
	if line.UnitPriceCents != 1000 || line.LineTotalCents != 3000 {
		t.Fatalf("merge must keep the original snapshot, got %+v", line)
	}
}

func TestAddItemChecksStockAgainstMergedQuantity(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productID := uuid.New()
	repo := &stubRepo{cart: cartWithLine(userID, productID, 4, 1000)}
	lookup := stubLookup{productID: {ID: productID, PriceCents: 1000, Stock: 5, IsActive: true}}
	svc := newTestService(repo, lookup, &stubLocker{})

	_, err := svc.AddItem(context.Background(), userID, productID, 2)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if repo.bumps != 0 {
		t.Fatalf("failed add must not bump version, got %d bumps", repo.bumps)
	}
}

func TestAddItemRejectsInactiveProduct(t *testing.T) {
	t.Parallel()

	productID := uuid.New()
	lookup := stubLookup{productID: {ID: productID, PriceCents: 1000, Stock: 5, IsActive: false}}
	svc := newTestService(&stubRepo{}, lookup, &stubLocker{})

	_, err := svc.AddItem(context.Background(), uuid.New(), productID, 1)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeProductUnavailable {
		t.Fatalf("expected product unavailable, got %v", err)
	}
}

func TestAddItemRejectsNonPositiveQuantity(t *testing.T) {
	t.Parallel()

	svc := newTestService(&stubRepo{}, stubLookup{}, &stubLocker{})

	_, err := svc.AddItem(context.Background(), uuid.New(), uuid.New(), 0)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeInvalidQuantity {
		t.Fatalf("expected invalid quantity, got %v", err)
	}
}

func TestUpdateItemZeroQuantityRemovesLine(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productID := uuid.New()
	repo := &stubRepo{cart: cartWithLine(userID, productID, 2, 1000)}
	svc := newTestService(repo, stubLookup{}, &stubLocker{})

	cart, err := svc.UpdateItem(context.Background(), userID, productID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cart.Item(productID) != nil {
		t.Fatal("expected line to be removed")
	}
	if repo.bumps != 1 {
		t.Fatalf("expected one version bump, got %d", repo.bumps)
	}
}

func TestUpdateItemRecalculatesFromSnapshot(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productID := uuid.New()
	repo := &stubRepo{cart: cartWithLine(userID, productID, 1, 1000)}
	lookup := stubLookup{productID: {ID: productID, PriceCents: 1200, Stock: 10, IsActive: true}}
	svc := newTestService(repo, lookup, &stubLocker{})

	cart, err := svc.UpdateItem(context.Background(), userID, productID, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	line := cart.Item(productID)
	if line.UnitPriceCents != 1000 || line.LineTotalCents != 3000 {
		t.Fatalf("update must use the snapshot, not the live price: %+v", line)
	}
}

func TestUpdateItemAbsentProduct(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productID := uuid.New()
	repo := &stubRepo{cart: cartWithLine(userID, uuid.New(), 1, 1000)}
	lookup := stubLookup{productID: {ID: productID, PriceCents: 1000, Stock: 10, IsActive: true}}
	svc := newTestService(repo, lookup, &stubLocker{})

	_, err := svc.UpdateItem(context.Background(), userID, productID, 1)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRemoveItemAbsentIsNoop(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	repo := &stubRepo{cart: cartWithLine(userID, uuid.New(), 1, 1000)}
	svc := newTestService(repo, stubLookup{}, &stubLocker{})

	cart, err := svc.RemoveItem(context.Background(), userID, uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected cart unchanged, got %+v", cart.Items)
	}
	if repo.bumps != 0 {
		t.Fatalf("no-op remove must not bump version, got %d bumps", repo.bumps)
	}
}

func TestClearCartEmptiesAllLines(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	repo := &stubRepo{cart: cartWithLine(userID, uuid.New(), 2, 1000)}
	svc := newTestService(repo, stubLookup{}, &stubLocker{})

	cart, err := svc.ClearCart(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 0 || cart.SubtotalCents() != 0 {
		t.Fatalf("expected empty cart, got %+v", cart.Items)
	}
}

func TestSyncPricesRewritesSnapshots(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	liveID := uuid.New()
	delistedID := uuid.New()

	cart := cartWithLine(userID, liveID, 2, 1000)
	cart.Items = append(cart.Items, models.CartItem{
		CartID: cart.ID, ProductID: delistedID, ProductTitle: "Gone",
		Quantity: 1, UnitPriceCents: 500, LineTotalCents: 500,
	})
	repo := &stubRepo{cart: cart}
	lookup := stubLookup{liveID: {ID: liveID, Title: "Moka Pot", PriceCents: 1300, Stock: 10, IsActive: true}}
	svc := newTestService(repo, lookup, &stubLocker{})

	got, err := svc.SyncPrices(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	live := got.Item(liveID)
	if live.UnitPriceCents != 1300 || live.LineTotalCents != 2600 {
		t.Fatalf("expected live line resynced, got %+v", live)
	}
	gone := got.Item(delistedID)
	if gone == nil || gone.UnitPriceCents != 500 || gone.Quantity != 1 {
		t.Fatalf("delisted line must keep its snapshot, got %+v", gone)
	}
}

func TestMutationFailsFastWhenLockHeld(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productID := uuid.New()
	repo := &stubRepo{cart: cartWithLine(userID, productID, 1, 1000)}
	svc := newTestService(repo, stubLookup{}, &stubLocker{held: true})

	_, err := svc.RemoveItem(context.Background(), userID, productID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict while lock held, got %v", err)
	}
}

func TestMutationSurfacesVersionConflict(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productID := uuid.New()
	repo := &stubRepo{cart: cartWithLine(userID, productID, 1, 1000), bumpErr: ErrVersionConflict}
	svc := newTestService(repo, stubLookup{}, &stubLocker{})

	_, err := svc.RemoveItem(context.Background(), userID, productID)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("expected conflict on stale version, got %v", err)
	}
}

func TestAddItemConcurrentDistinctProductsBothLand(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	productA := uuid.New()
	productB := uuid.New()
	lookup := stubLookup{
		productA: {ID: productA, Title: "Moka Pot", PriceCents: 1500, Stock: 5, IsActive: true},
		productB: {ID: productB, Title: "Grinder", PriceCents: 2500, Stock: 5, IsActive: true},
	}
	repo := &stubRepo{}
	locker := newSemLocker()
	svc, err := NewService(repo, stubTxRunner{}, lookup, locker, config.CheckoutConfig{
		CartMutationLockTTL:  10 * time.Second,
		CartMutationLockWait: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, productID := range []uuid.UUID{productA, productB} {
		wg.Add(1)
		go func(productID uuid.UUID) {
			defer wg.Done()
			_, addErr := svc.AddItem(context.Background(), userID, productID, 1)
			locker.release()
			errs <- addErr
		}(productID)
	}
	wg.Wait()
	close(errs)
	for addErr := range errs {
		if addErr != nil {
			t.Fatalf("expected both writers to land, got %v", addErr)
		}
	}

	cart, err := svc.GetCart(context.Background(), userID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cart.Items) != 2 {
		t.Fatalf("expected both lines in cart, got %d", len(cart.Items))
	}
	if cart.Item(productA) == nil || cart.Item(productB) == nil {
		t.Fatalf("expected both products present, got %+v", cart.Items)
	}
	if cart.Version != 2 {
		t.Fatalf("expected one version bump per writer, got %d", cart.Version)
	}
}

func newTestService(repo Repository, lookup catalog.Lookup, locker pkgredis.CartLocker) Service {
	svc, err := NewService(repo, stubTxRunner{}, lookup, locker, config.CheckoutConfig{
		CartMutationLockTTL:  10 * time.Second,
		CartMutationLockWait: 50 * time.Millisecond,
	})
	if err != nil {
		panic(err)
	}
	return svc
}

func cartWithLine(userID, productID uuid.UUID, quantity int, unitPriceCents int64) *models.Cart {
	cartID := uuid.New()
	return &models.Cart{
		ID:     cartID,
		UserID: userID,
		Items: []models.CartItem{{
			ID:             uuid.New(),
			CartID:         cartID,
			ProductID:      productID,
			ProductTitle:   "Item",
			Quantity:       quantity,
			UnitPriceCents: unitPriceCents,
			LineTotalCents: int64(quantity) * unitPriceCents,
		}},
	}
}

type stubRepo struct {
	mu      sync.Mutex
	cart    *models.Cart
	bumpErr error
	bumps   int
}

func (s *stubRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubRepo) FindByUser(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil || s.cart.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.snapshot(), nil
}

func (s *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart == nil || s.cart.ID != id {
		return nil, gorm.ErrRecordNotFound
	}
	return s.snapshot(), nil
}

func (s *stubRepo) Create(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cart != nil && s.cart.UserID == cart.UserID {
		return nil, errors.New("UNIQUE constraint failed: ux_carts_user")
	}
	cart.ID = uuid.New()
	s.cart = cart
	return s.snapshot(), nil
}

func (s *stubRepo) BumpVersion(ctx context.Context, cartID uuid.UUID, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bumpErr != nil {
		return s.bumpErr
	}
	if s.cart == nil || s.cart.ID != cartID || s.cart.Version != expectedVersion {
		return ErrVersionConflict
	}
	s.bumps++
	s.cart.Version++
	return nil
}

func (s *stubRepo) ReplaceItems(ctx context.Context, cartID uuid.UUID, items []models.CartItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Items = append([]models.CartItem(nil), items...)
	return nil
}

func (s *stubRepo) snapshot() *models.Cart {
	clone := *s.cart
	clone.Items = append([]models.CartItem(nil), s.cart.Items...)
	return &clone
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubLookup map[uuid.UUID]*catalog.Product

func (s stubLookup) GetProduct(ctx context.Context, productID uuid.UUID) (*catalog.Product, error) {
	product, ok := s[productID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeProductUnavailable, "product is not available")
	}
	return product, nil
}

// semLocker grants one holder at a time. Release is driven by the test after
// the mutation returns, mirroring how the redis lock covers a full mutation.
type semLocker struct {
	sem chan struct{}
}

func newSemLocker() *semLocker {
	return &semLocker{sem: make(chan struct{}, 1)}
}

func (s *semLocker) Acquire(ctx context.Context, cartID uuid.UUID, ttl time.Duration) (*pkgredis.Lock, error) {
	select {
	case s.sem <- struct{}{}:
		return &pkgredis.Lock{}, nil
	default:
		return nil, pkgredis.ErrLockHeld
	}
}

func (s *semLocker) AcquireWait(ctx context.Context, cartID uuid.UUID, ttl, wait time.Duration) (*pkgredis.Lock, error) {
	select {
	case s.sem <- struct{}{}:
		return &pkgredis.Lock{}, nil
	case <-time.After(wait):
		return nil, pkgredis.ErrLockHeld
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *semLocker) release() {
	select {
	case <-s.sem:
	default:
	}
}

type stubLocker struct {
	held bool
}

func (s *stubLocker) Acquire(ctx context.Context, cartID uuid.UUID, ttl time.Duration) (*pkgredis.Lock, error) {
	if s.held {
		return nil, pkgredis.ErrLockHeld
	}
	return &pkgredis.Lock{}, nil
}

func (s *stubLocker) AcquireWait(ctx context.Context, cartID uuid.UUID, ttl, wait time.Duration) (*pkgredis.Lock, error) {
	return s.Acquire(ctx, cartID, ttl)
}
