package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/brightcart/storefront-backend/pkg/enums"
)

// PaymentIntent tracks payment progress for one checkout attempt. The
// idempotency key is unique: re-creating with the same key returns the
// stored row instead of double-creating against the gateway.
type PaymentIntent struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	CartID         uuid.UUID                 `gorm:"column:cart_id;type:uuid;not null"`
	UserID         uuid.UUID                 `gorm:"column:user_id;type:uuid;not null"`
	AmountCents    int64                     `gorm:"column:amount_cents;not null"`
	Currency       enums.Currency            `gorm:"column:currency;not null;default:'USD'"`
	IdempotencyKey string                    `gorm:"column:idempotency_key;not null;uniqueIndex:ux_payment_intents_idem_key"`
	Status         enums.PaymentIntentStatus `gorm:"column:status;not null;default:'created'"`
	GatewayRef     *string                   `gorm:"column:gateway_ref"`
	FailureReason  *string                   `gorm:"column:failure_reason"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentIntent) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
