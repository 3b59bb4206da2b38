package orders

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/brightcart/storefront-backend/pkg/db/models"
	"github.com/brightcart/storefront-backend/pkg/enums"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
	"github.com/brightcart/storefront-backend/pkg/logger"
	"github.com/brightcart/storefront-backend/pkg/outbox"
	"github.com/brightcart/storefront-backend/pkg/types"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  payment_intent_id TEXT NOT NULL,
  total_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'USD',
  status TEXT NOT NULL DEFAULT 'pending',
  shipping_address TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE UNIQUE INDEX IF NOT EXISTS ux_orders_user_intent ON orders (user_id, payment_intent_id);`
	orderItems := `
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  product_title TEXT NOT NULL,
  product_image TEXT,
  quantity INTEGER NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  line_total_cents INTEGER NOT NULL,
  created_at DATETIME
);`
	outboxEvents := `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`
	require.NoError(t, db.Exec(orders).Error)
	require.NoError(t, db.Exec(orderItems).Error)
	require.NoError(t, db.Exec(outboxEvents).Error)
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestOrderService(t *testing.T, db *gorm.DB) Service {
	t.Helper()

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	events := outbox.NewService(outbox.NewRepository(db), logg)
	svc, err := NewService(NewRepository(db), gormTxRunner{db: db}, events, logg)
	require.NoError(t, err)
	return svc
}

func sampleInput(userID uuid.UUID) RecordInput {
	return RecordInput{
		UserID:          userID,
		PaymentIntentID: uuid.New(),
		TotalCents:      3000,
		Currency:        enums.CurrencyUSD,
		ShippingAddress: types.Address{
			Line1: "12 Harbor Way", City: "Portland", State: "OR",
			PostalCode: "97201", Country: "US",
		},
		Items: []models.OrderItem{
			{ProductID: uuid.New(), ProductTitle: "Moka Pot", Quantity: 2, UnitPriceCents: 1500, LineTotalCents: 3000},
		},
	}
}

func TestRecordPersistsOrderWithOutboxEvent(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newTestOrderService(t, db)
	userID := uuid.New()

	order, err := svc.Record(context.Background(), sampleInput(userID))
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, order.Status)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(3000), order.TotalCents)

	var events []models.OutboxEvent
	require.NoError(t, db.Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, enums.EventOrderCreated, events[0].EventType)
	assert.Equal(t, order.ID, events[0].AggregateID)
}

func TestRecordIdempotentPerIntent(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newTestOrderService(t, db)
	input := sampleInput(uuid.New())

	first, err := svc.Record(context.Background(), input)
	require.NoError(t, err)

	second, err := svc.Record(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Where("user_id = ?", input.UserID).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The repeat must not append a second analytics event either.
	var events int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", first.ID).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestRecordValidation(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newTestOrderService(t, db)

	input := sampleInput(uuid.New())
	input.Items = nil
	_, err := svc.Record(context.Background(), input)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
}

func TestListByUserNewestFirst(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newTestOrderService(t, db)
	userID := uuid.New()

	first, err := svc.Record(context.Background(), sampleInput(userID))
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Order{}).
		Where("id = ?", first.ID).
		Update("created_at", time.Now().Add(-time.Hour)).Error)

	second, err := svc.Record(context.Background(), sampleInput(userID))
	require.NoError(t, err)

	list, err := svc.ListByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	require.Len(t, list[0].Items, 1)
}

func TestGetByIDScopedToUser(t *testing.T) {
	db := setupOrdersTestDB(t)
	svc := newTestOrderService(t, db)
	userID := uuid.New()

	order, err := svc.Record(context.Background(), sampleInput(userID))
	require.NoError(t, err)

	found, err := svc.GetByID(context.Background(), userID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	assert.Equal(t, "Portland", found.ShippingAddress.City)

	_, err = svc.GetByID(context.Background(), uuid.New(), order.ID)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}
