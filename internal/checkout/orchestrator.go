package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/brightcart/storefront-backend/internal/cart"
	"github.com/brightcart/storefront-backend/internal/orders"
	"github.com/brightcart/storefront-backend/internal/payment"
	"github.com/brightcart/storefront-backend/pkg/config"
	"github.com/brightcart/storefront-backend/pkg/db/models"
	"github.com/brightcart/storefront-backend/pkg/enums"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
	"github.com/brightcart/storefront-backend/pkg/logger"
	"github.com/brightcart/storefront-backend/pkg/metrics"
	"github.com/brightcart/storefront-backend/pkg/outbox"
	pkgredis "github.com/brightcart/storefront-backend/pkg/redis"
	"github.com/brightcart/storefront-backend/pkg/types"
)

// Saga step names used for logging and metrics.
const (
	stepLoadCart    = "load_cart"
	stepAcquireLock = "acquire_lock"
	stepPrepare     = "prepare"
	stepPayment     = "payment"
	stepRecordOrder = "record_order"
	stepClearCart   = "clear_cart"
)

// recordRetryBase seeds the backoff between order persistence attempts.
const recordRetryBase = 200 * time.Millisecond

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CheckoutInput is one checkout attempt. AttemptKey is the caller's
// idempotency token: retrying a gateway failure with the same key resumes
// the same payment intent, while a fresh key after a decline opens a new
// one.
type CheckoutInput struct {
	UserID          uuid.UUID
	ShippingAddress types.Address
	AttemptKey      string
}

// Orchestrator runs the cart-to-order saga. One checkout per cart at a
// time; a concurrent attempt fails fast instead of queuing.
type Orchestrator interface {
	Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error)
}

type orchestrator struct {
	cartRepo cart.Repository
	tx       txRunner
	preparer Preparer
	payments payment.Coordinator
	recorder orders.Recorder
	locker   pkgredis.CartLocker
	events   *outbox.Service
	metr     *metrics.CheckoutMetrics
	logg     *logger.Logger
	cfg      config.CheckoutConfig
}

// NewOrchestrator wires the checkout saga.
func NewOrchestrator(
	cartRepo cart.Repository,
	tx txRunner,
	preparer Preparer,
	payments payment.Coordinator,
	recorder orders.Recorder,
	locker pkgredis.CartLocker,
	events *outbox.Service,
	metr *metrics.CheckoutMetrics,
	logg *logger.Logger,
	cfg config.CheckoutConfig,
) (Orchestrator, error) {
	if cartRepo == nil {
		return nil, errors.New("cart repository required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if preparer == nil {
		return nil, errors.New("preparer required")
	}
	if payments == nil {
		return nil, errors.New("payment coordinator required")
	}
	if recorder == nil {
		return nil, errors.New("order recorder required")
	}
	if locker == nil {
		return nil, errors.New("cart locker required")
	}
	if events == nil {
		return nil, errors.New("outbox service required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &orchestrator{
		cartRepo: cartRepo,
		tx:       tx,
		preparer: preparer,
		payments: payments,
		recorder: recorder,
		locker:   locker,
		events:   events,
		metr:     metr,
		logg:     logg,
		cfg:      cfg,
	}, nil
}

// Checkout converts the user's cart into an order, strictly ordered:
// load -> lock -> prepare -> pay -> record -> clear. The lock is held to a
// terminal state. Once the payment is confirmed the saga keeps running on a
// detached context so a dropped client cannot strand a captured charge.
func (o *orchestrator) Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	if input.UserID == uuid.Nil {
		return nil, o.finish(stepLoadCart, "validation_failed",
			pkgerrors.New(pkgerrors.CodeValidation, "user id is required"))
	}
	if input.AttemptKey == "" {
		return nil, o.finish(stepLoadCart, "validation_failed",
			pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required"))
	}
	if err := input.ShippingAddress.Validate(); err != nil {
		return nil, o.finish(stepLoadCart, "validation_failed",
			pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid shipping address"))
	}

	ctx = o.logg.WithUserID(ctx, input.UserID.String())

	c, err := o.loadCart(ctx, input.UserID)
	if err != nil {
		return nil, o.finish(stepLoadCart, "empty_cart", err)
	}
	ctx = o.logg.WithCartID(ctx, c.ID.String())

	lock, err := o.locker.Acquire(ctx, c.ID, o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, pkgredis.ErrLockHeld) {
			return nil, o.finish(stepAcquireLock, "lock_contention",
				pkgerrors.New(pkgerrors.CodeCheckoutInProgress, "another checkout holds this cart"))
		}
		return nil, o.finish(stepAcquireLock, "lock_error",
			pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire checkout lock"))
	}
	o.metr.ObserveStep(stepAcquireLock, "ok")

	// The lock must be released even when the client context is gone.
	detached := context.WithoutCancel(ctx)
	defer func() {
		if err := lock.Release(detached); err != nil {
			o.logg.Warn(o.logg.WithSagaStep(detached, stepAcquireLock), "checkout lock release failed")
		}
	}()

	// Reload under the lock so the prepared state is the state we charge.
	c, err = o.cartRepo.FindByID(ctx, c.ID)
	if err != nil {
		return nil, o.finish(stepLoadCart, "load_failed",
			pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload cart"))
	}
	if len(c.Items) == 0 {
		return nil, o.finish(stepLoadCart, "empty_cart",
			pkgerrors.New(pkgerrors.CodeEmptyCart, "cart has no items"))
	}

	prep, err := o.prepare(ctx, c)
	if err != nil {
		return nil, o.finish(stepPrepare, "unavailable", err)
	}

	// Cancellation is honored up to here; nothing has been charged yet.
	if err := ctx.Err(); err != nil {
		return nil, o.finish(stepPayment, "abandoned", err)
	}

	intent, err := o.pay(detached, c, input, prep)
	if err != nil {
		return nil, err
	}

	order, err := o.record(detached, c, input, prep, intent)
	if err != nil {
		return nil, err
	}

	// Compensation failures are logged, never returned: the order exists.
	var sideErr error
	if err := o.clearCart(detached, c); err != nil {
		sideErr = multierr.Append(sideErr, fmt.Errorf("clear cart: %w", err))
	}
	if sideErr != nil {
		o.metr.ObserveStep(stepClearCart, "failed")
		o.logg.Error(o.logg.WithSagaStep(detached, stepClearCart), "post-order cleanup failed", sideErr)
	} else {
		o.metr.ObserveStep(stepClearCart, "ok")
	}

	o.metr.ObserveAttempt("completed")
	o.logg.Info(o.logg.WithField(detached, "order_id", order.ID), "checkout completed")
	return order, nil
}

func (o *orchestrator) loadCart(ctx context.Context, userID uuid.UUID) (*models.Cart, error) {
	c, err := o.cartRepo.FindByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeEmptyCart, "cart has no items")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart")
	}
	if len(c.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeEmptyCart, "cart has no items")
	}
	return c, nil
}

func (o *orchestrator) prepare(ctx context.Context, c *models.Cart) (*Preparation, error) {
	ctx = o.logg.WithSagaStep(ctx, stepPrepare)
	prep, err := o.preparer.Prepare(ctx, c)
	if err != nil {
		return nil, err
	}
	if !prep.AvailableForCheckout {
		return nil, stockUnavailable(prep.Unavailable)
	}
	o.metr.ObserveStep(stepPrepare, "ok")
	return prep, nil
}

// pay creates and confirms the payment intent. The intent key is derived
// from the locked cart state plus the caller's attempt token, so a retry of
// a gateway failure resumes the same intent instead of opening another.
func (o *orchestrator) pay(ctx context.Context, c *models.Cart, input CheckoutInput, prep *Preparation) (*models.PaymentIntent, error) {
	ctx = o.logg.WithSagaStep(ctx, stepPayment)
	key := fmt.Sprintf("checkout:%s:%d:%s", c.ID, c.Version, input.AttemptKey)

	intent, err := o.payments.CreateIntent(ctx, payment.CreateIntentInput{
		CartID:         c.ID,
		UserID:         input.UserID,
		AmountCents:    prep.SubtotalCents,
		Currency:       enums.Currency(o.cfg.Currency),
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, o.paymentFailed(ctx, c, input, prep, err)
	}

	confirmed, err := o.payments.Confirm(ctx, intent.ID)
	if err != nil {
		return nil, o.paymentFailed(ctx, c, input, prep, err)
	}
	o.metr.ObserveStep(stepPayment, "ok")
	return confirmed, nil
}

func (o *orchestrator) paymentFailed(ctx context.Context, c *models.Cart, input CheckoutInput, prep *Preparation, err error) error {
	if pkgerrors.HasCode(err, pkgerrors.CodePaymentDeclined) {
		reason := ""
		if typed := pkgerrors.As(err); typed != nil {
			reason = typed.Message()
		}
		if emitErr := o.emitDeclined(ctx, c, input.UserID, prep.SubtotalCents, reason); emitErr != nil {
			o.logg.Warn(ctx, "payment decline event not recorded")
		}
		return o.finish(stepPayment, "declined", err)
	}
	if pkgerrors.HasCode(err, pkgerrors.CodePaymentGatewayError) {
		return o.finish(stepPayment, "gateway_error", err)
	}
	return o.finish(stepPayment, "failed", err)
}

func (o *orchestrator) emitDeclined(ctx context.Context, c *models.Cart, userID uuid.UUID, amountCents int64, reason string) error {
	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		uid := userID
		return o.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentDeclined,
			AggregateType: enums.AggregateCart,
			AggregateID:   c.ID,
			UserID:        &uid,
			Version:       1,
			Data: outbox.PaymentDeclinedEvent{
				CartID:      c.ID,
				UserID:      userID,
				AmountCents: amountCents,
				Reason:      reason,
			},
		})
	})
}

// record persists the order with a bounded retry budget. The payment is
// already captured, so exhausting the budget raises the dangling-payment
// alert instead of re-running the charge or discarding it.
func (o *orchestrator) record(ctx context.Context, c *models.Cart, input CheckoutInput, prep *Preparation, intent *models.PaymentIntent) (*models.Order, error) {
	ctx = o.logg.WithSagaStep(ctx, stepRecordOrder)

	items := make([]models.OrderItem, 0, len(prep.Lines))
	for _, line := range prep.Lines {
		items = append(items, models.OrderItem{
			ProductID:      line.ProductID,
			ProductTitle:   line.ProductTitle,
			ProductImage:   line.ProductImage,
			Quantity:       line.Quantity,
			UnitPriceCents: line.LiveUnitCents,
			LineTotalCents: line.LineTotalCents,
		})
	}

	var order *models.Order
	backoff := retry.WithMaxRetries(o.cfg.OrderRecordRetries, retry.NewFibonacci(recordRetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		recorded, recErr := o.recorder.Record(ctx, orders.RecordInput{
			UserID:          input.UserID,
			PaymentIntentID: intent.ID,
			Items:           items,
			TotalCents:      prep.SubtotalCents,
			Currency:        intent.Currency,
			ShippingAddress: input.ShippingAddress,
		})
		if recErr != nil {
			return retry.RetryableError(recErr)
		}
		order = recorded
		return nil
	})
	if err != nil {
		o.metr.IncDanglingPayment()
		dangling := pkgerrors.Wrap(pkgerrors.CodeDanglingPayment, err, "payment captured without a persisted order")
		o.logg.Error(o.logg.WithField(ctx, "payment_intent_id", intent.ID), "dangling payment", dangling)
		return nil, o.finish(stepRecordOrder, "dangling_payment",
			pkgerrors.Wrap(pkgerrors.CodeOrderCreationFailure, err, "order persistence exhausted retries").
				WithDetails(map[string]any{"payment_intent_id": intent.ID}))
	}
	o.metr.ObserveStep(stepRecordOrder, "ok")
	return order, nil
}

// clearCart empties the cart after the order exists. The saga still holds
// the cart lock, so the version read at prepare time is current.
func (o *orchestrator) clearCart(ctx context.Context, c *models.Cart) error {
	return o.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := o.cartRepo.WithTx(tx)
		if err := repo.BumpVersion(ctx, c.ID, c.Version); err != nil {
			return err
		}
		if err := repo.ReplaceItems(ctx, c.ID, nil); err != nil {
			return err
		}
		uid := c.UserID
		return o.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCartCleared,
			AggregateType: enums.AggregateCart,
			AggregateID:   c.ID,
			UserID:        &uid,
			Version:       1,
			Data:          map[string]any{"cart_id": c.ID, "user_id": c.UserID},
		})
	})
}

// finish tags the terminal outcome on metrics and returns err unchanged.
func (o *orchestrator) finish(step, outcome string, err error) error {
	o.metr.ObserveStep(step, "failed")
	o.metr.ObserveAttempt(outcome)
	return err
}
