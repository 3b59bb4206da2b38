package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/brightcart/storefront-backend/pkg/config"
	dbpkg "github.com/brightcart/storefront-backend/pkg/db"
	"github.com/brightcart/storefront-backend/pkg/db/models"
	"github.com/brightcart/storefront-backend/pkg/enums"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
	"github.com/brightcart/storefront-backend/pkg/logger"
	"github.com/brightcart/storefront-backend/pkg/metrics"
)

// retryBase seeds the fibonacci backoff between gateway attempts.
const retryBase = 250 * time.Millisecond

// AmountSource re-derives the chargeable amount for a cart. The coordinator
// never trusts a caller-supplied amount on its own.
type AmountSource interface {
	SubtotalCents(ctx context.Context, cartID uuid.UUID) (int64, error)
}

// CreateIntentInput carries everything needed to open a payment attempt.
type CreateIntentInput struct {
	CartID         uuid.UUID
	UserID         uuid.UUID
	AmountCents    int64
	Currency       enums.Currency
	IdempotencyKey string
}

// Coordinator drives the per-attempt payment state machine:
// created -> confirmed | declined | errored. Declined is terminal. Errored
// is retry-safe with the same idempotency key because no charge is
// guaranteed to have happened.
type Coordinator interface {
	CreateIntent(ctx context.Context, input CreateIntentInput) (*models.PaymentIntent, error)
	Confirm(ctx context.Context, intentID uuid.UUID) (*models.PaymentIntent, error)
}

type coordinator struct {
	repo    Repository
	gateway Gateway
	amounts AmountSource
	metr    *metrics.CheckoutMetrics
	logg    *logger.Logger
	retries uint64
}

// NewCoordinator wires the payment coordinator.
func NewCoordinator(
	repo Repository,
	gateway Gateway,
	amounts AmountSource,
	metr *metrics.CheckoutMetrics,
	logg *logger.Logger,
	cfg config.PaymentConfig,
) (Coordinator, error) {
	if repo == nil {
		return nil, errors.New("payment repository required")
	}
	if gateway == nil {
		return nil, errors.New("payment gateway required")
	}
	if amounts == nil {
		return nil, errors.New("amount source required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &coordinator{
		repo:    repo,
		gateway: gateway,
		amounts: amounts,
		metr:    metr,
		logg:    logg,
		retries: cfg.ConfirmRetries,
	}, nil
}

// CreateIntent opens (or resumes) the payment attempt for the given key.
// The same key with the same cart and amount returns the stored intent; the
// same key with a different amount is rejected.
func (c *coordinator) CreateIntent(ctx context.Context, input CreateIntentInput) (*models.PaymentIntent, error) {
	if input.IdempotencyKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key is required")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	derived, err := c.amounts.SubtotalCents(ctx, input.CartID)
	if err != nil {
		return nil, err
	}
	if derived != input.AmountCents {
		return nil, amountMismatch(input.AmountCents, derived)
	}

	existing, err := c.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}
	if existing != nil {
		return c.resume(ctx, existing, input)
	}

	intent := &models.PaymentIntent{
		CartID:         input.CartID,
		UserID:         input.UserID,
		AmountCents:    input.AmountCents,
		Currency:       input.Currency,
		IdempotencyKey: input.IdempotencyKey,
		Status:         enums.PaymentIntentCreated,
	}
	if _, err := c.repo.Create(ctx, intent); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_payment_intents_idem_key") {
			// Lost a create race on the key; resume the winner's row.
			winner, findErr := c.repo.FindByIdempotencyKey(ctx, input.IdempotencyKey)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load payment intent")
			}
			return c.resume(ctx, winner, input)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	return c.register(ctx, intent)
}

// resume applies the idempotency contract to an existing row for the key.
func (c *coordinator) resume(ctx context.Context, existing *models.PaymentIntent, input CreateIntentInput) (*models.PaymentIntent, error) {
	if existing.CartID != input.CartID || existing.AmountCents != input.AmountCents {
		return nil, amountMismatch(input.AmountCents, existing.AmountCents)
	}
	switch existing.Status {
	case enums.PaymentIntentConfirmed:
		return existing, nil
	case enums.PaymentIntentDeclined:
		return nil, declinedError(existing)
	}
	if existing.GatewayRef == nil {
		// Registration never reached the gateway; the key makes the redo safe.
		return c.register(ctx, existing)
	}
	return existing, nil
}

// register pushes the intent to the gateway and stores the returned ref.
func (c *coordinator) register(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	var gw *GatewayIntent
	err := c.withRetries(ctx, func(ctx context.Context) error {
		started := time.Now()
		created, err := c.gateway.CreateIntent(ctx, intent.IdempotencyKey, intent.AmountCents, intent.Currency)
		c.metr.ObservePaymentCall("create_intent", time.Since(started))
		if err != nil {
			return err
		}
		gw = created
		return nil
	})
	if err != nil {
		c.markErrored(ctx, intent, err)
		return nil, err
	}

	if updateErr := c.repo.UpdateStatus(ctx, intent.ID, enums.PaymentIntentCreated, &gw.Reference, nil); updateErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, updateErr, "store gateway reference")
	}
	intent.Status = enums.PaymentIntentCreated
	intent.GatewayRef = &gw.Reference
	c.logg.Info(c.logg.WithFields(ctx, map[string]any{
		"intent_id":   intent.ID,
		"gateway_ref": gw.Reference,
	}), "payment intent registered")
	return intent, nil
}

// Confirm drives the gateway capture for the intent. Confirmed is returned
// as-is, declined stays declined, and a transient gateway failure marks the
// intent errored after the retry budget is spent.
func (c *coordinator) Confirm(ctx context.Context, intentID uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := c.repo.FindByID(ctx, intentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment intent")
	}

	switch intent.Status {
	case enums.PaymentIntentConfirmed:
		return intent, nil
	case enums.PaymentIntentDeclined:
		return nil, declinedError(intent)
	}
	if intent.GatewayRef == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment intent has no gateway reference")
	}

	var result *GatewayResult
	err = c.withRetries(ctx, func(ctx context.Context) error {
		started := time.Now()
		res, err := c.gateway.ConfirmIntent(ctx, *intent.GatewayRef)
		c.metr.ObservePaymentCall("confirm_intent", time.Since(started))
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		c.markErrored(ctx, intent, err)
		return nil, err
	}

	if result.Declined {
		reason := result.FailureReason
		if updateErr := c.repo.UpdateStatus(ctx, intent.ID, enums.PaymentIntentDeclined, nil, &reason); updateErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, updateErr, "store payment decline")
		}
		intent.Status = enums.PaymentIntentDeclined
		intent.FailureReason = &reason
		c.logg.Warn(c.logg.WithField(ctx, "intent_id", intent.ID), "payment declined")
		return nil, declinedError(intent)
	}

	if updateErr := c.repo.UpdateStatus(ctx, intent.ID, enums.PaymentIntentConfirmed, nil, nil); updateErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, updateErr, "store payment confirmation")
	}
	intent.Status = enums.PaymentIntentConfirmed
	c.logg.Info(c.logg.WithField(ctx, "intent_id", intent.ID), "payment confirmed")
	return intent, nil
}

// withRetries runs fn with fibonacci backoff, retrying only transient
// gateway failures.
func (c *coordinator) withRetries(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(c.retries, retry.NewFibonacci(retryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && pkgerrors.IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// markErrored records the failed attempt. The row stays resumable under the
// same key because no charge is guaranteed to have occurred.
func (c *coordinator) markErrored(ctx context.Context, intent *models.PaymentIntent, cause error) {
	reason := cause.Error()
	if err := c.repo.UpdateStatus(ctx, intent.ID, enums.PaymentIntentErrored, nil, &reason); err != nil {
		c.logg.Error(ctx, "store payment error state", err)
	}
	c.logg.Error(c.logg.WithField(ctx, "intent_id", intent.ID), "payment attempt errored", cause)
}

func amountMismatch(provided, expected int64) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeAmountMismatch,
		fmt.Sprintf("amount %d does not match expected %d", provided, expected)).
		WithDetails(map[string]any{
			"provided_cents": provided,
			"expected_cents": expected,
		})
}

func declinedError(intent *models.PaymentIntent) *pkgerrors.Error {
	msg := "payment was declined"
	if intent.FailureReason != nil && *intent.FailureReason != "" {
		msg = *intent.FailureReason
	}
	return pkgerrors.New(pkgerrors.CodePaymentDeclined, msg).
		WithDetails(map[string]any{"intent_id": intent.ID})
}
