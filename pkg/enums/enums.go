package enums

// Currency is the ISO-4217 code carried on intents and orders.
type Currency string

const (
	CurrencyUSD Currency = "USD"
)

// PaymentIntentStatus tracks one checkout attempt's payment state machine.
type PaymentIntentStatus string

const (
	PaymentIntentCreated   PaymentIntentStatus = "created"
	PaymentIntentConfirmed PaymentIntentStatus = "confirmed"
	PaymentIntentDeclined  PaymentIntentStatus = "declined"
	PaymentIntentErrored   PaymentIntentStatus = "errored"
)

// Terminal reports whether the intent can no longer transition. Errored is
// not terminal: the same idempotency key may be retried because no charge is
// guaranteed to have occurred.
func (s PaymentIntentStatus) Terminal() bool {
	return s == PaymentIntentConfirmed || s == PaymentIntentDeclined
}

// OrderStatus mirrors the fulfillment lifecycle. Orders enter as paid; the
// later transitions are driven by fulfillment systems outside this service.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// OutboxEventType enumerates analytics events emitted by this service.
type OutboxEventType string

const (
	EventOrderCreated    OutboxEventType = "order.created"
	EventCartCleared     OutboxEventType = "cart.cleared"
	EventPaymentDeclined OutboxEventType = "payment.declined"
)

// OutboxAggregateType names the aggregate an outbox row belongs to.
type OutboxAggregateType string

const (
	AggregateOrder OutboxAggregateType = "order"
	AggregateCart  OutboxAggregateType = "cart"
)
