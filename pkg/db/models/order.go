package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightcart/storefront-backend/pkg/enums"
	"github.com/brightcart/storefront-backend/pkg/types"
)

// Order is the durable record of one successful checkout. Item data is
// copied, not referenced, so later catalog changes never rewrite history.
// The (user_id, payment_intent_id) pair is unique, which is what makes the
// recorder idempotent under orchestrator retries.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	UserID          uuid.UUID         `gorm:"column:user_id;type:uuid;not null;uniqueIndex:ux_orders_user_intent"`
	PaymentIntentID uuid.UUID         `gorm:"column:payment_intent_id;type:uuid;not null;uniqueIndex:ux_orders_user_intent"`
	TotalCents      int64             `gorm:"column:total_cents;not null"`
	Currency        enums.Currency    `gorm:"column:currency;not null;default:'USD'"`
	Status          enums.OrderStatus `gorm:"column:status;not null;default:'pending'"`
	ShippingAddress types.Address     `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	Items           []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
