package cart

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/brightcart/storefront-backend/pkg/db"
	"github.com/brightcart/storefront-backend/pkg/db/models"
)

func setupCartTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	carts := `
CREATE TABLE IF NOT EXISTS carts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_carts_user ON carts (user_id);`
	cartItems := `
CREATE TABLE IF NOT EXISTS cart_items (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  product_title TEXT NOT NULL,
  product_image TEXT,
  quantity INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  line_total_cents INTEGER NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_cart_items_cart_product ON cart_items (cart_id, product_id);`
	require.NoError(t, db.Exec(carts).Error)
	require.NoError(t, db.Exec(cartItems).Error)
	return db
}

func TestRepositoryCreateAndFindByUser(t *testing.T) {
	db := setupCartTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	created, err := repo.Create(context.Background(), &models.Cart{UserID: userID})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	found, err := repo.FindByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, int64(0), found.Version)
	assert.Empty(t, found.Items)
}

func TestRepositoryFindByUserNotFound(t *testing.T) {
	db := setupCartTestDB(t)
	repo := NewRepository(db)

	_, err := repo.FindByUser(context.Background(), uuid.New())
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryDuplicateCartPerUser(t *testing.T) {
	db := setupCartTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	_, err := repo.Create(context.Background(), &models.Cart{UserID: userID})
	require.NoError(t, err)

	_, err = repo.Create(context.Background(), &models.Cart{UserID: userID})
	require.Error(t, err)
	assert.True(t, dbpkg.IsUniqueViolation(err, "ux_carts_user"))
}

func TestRepositoryBumpVersionCompareAndSwap(t *testing.T) {
	db := setupCartTestDB(t)
	repo := NewRepository(db)

	created, err := repo.Create(context.Background(), &models.Cart{UserID: uuid.New()})
	require.NoError(t, err)

	require.NoError(t, repo.BumpVersion(context.Background(), created.ID, 0))

	// A second writer that still holds version 0 must lose.
	err = repo.BumpVersion(context.Background(), created.ID, 0)
	require.True(t, errors.Is(err, ErrVersionConflict))

	found, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), found.Version)
}

func TestRepositoryReplaceItems(t *testing.T) {
	db := setupCartTestDB(t)
	repo := NewRepository(db)

	created, err := repo.Create(context.Background(), &models.Cart{UserID: uuid.New()})
	require.NoError(t, err)

	first := uuid.New()
	second := uuid.New()
	now := time.Now().UTC()
	items := []models.CartItem{
		{ProductID: first, ProductTitle: "First", Quantity: 1, UnitPriceCents: 1000, LineTotalCents: 1000, CreatedAt: now.Add(-time.Minute)},
		{ProductID: second, ProductTitle: "Second", Quantity: 2, UnitPriceCents: 500, LineTotalCents: 1000, CreatedAt: now},
	}
	require.NoError(t, repo.ReplaceItems(context.Background(), created.ID, items))

	found, err := repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, found.Items, 2)
	assert.Equal(t, first, found.Items[0].ProductID)
	assert.Equal(t, second, found.Items[1].ProductID)
	assert.Equal(t, int64(2000), found.SubtotalCents())

	require.NoError(t, repo.ReplaceItems(context.Background(), created.ID, []models.CartItem{
		{ProductID: second, ProductTitle: "Second", Quantity: 5, UnitPriceCents: 500, LineTotalCents: 2500},
	}))

	found, err = repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	require.Len(t, found.Items, 1)
	assert.Equal(t, 5, found.Items[0].Quantity)

	require.NoError(t, repo.ReplaceItems(context.Background(), created.ID, nil))
	found, err = repo.FindByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Empty(t, found.Items)
}

func TestRepositoryWithTxSharesTransaction(t *testing.T) {
	db := setupCartTestDB(t)
	repo := NewRepository(db)
	userID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		txRepo := repo.WithTx(tx)
		if _, err := txRepo.Create(context.Background(), &models.Cart{UserID: userID}); err != nil {
			return err
		}
		return errors.New("rollback")
	})
	require.Error(t, err)

	_, err = repo.FindByUser(context.Background(), userID)
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
