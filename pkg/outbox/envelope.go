package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PayloadEnvelope is the stable payload structure stored in outbox_events
// and shipped verbatim to the analytics sink.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	UserID     *uuid.UUID      `json:"userId,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// OrderCreatedEvent is emitted transactionally with order persistence.
type OrderCreatedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	UserID          uuid.UUID `json:"user_id"`
	PaymentIntentID uuid.UUID `json:"payment_intent_id"`
	TotalCents      int64     `json:"total_cents"`
	Currency        string    `json:"currency"`
	ItemCount       int       `json:"item_count"`
}

// PaymentDeclinedEvent records a terminal gateway decline for analytics.
type PaymentDeclinedEvent struct {
	CartID      uuid.UUID `json:"cart_id"`
	UserID      uuid.UUID `json:"user_id"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason,omitempty"`
}
