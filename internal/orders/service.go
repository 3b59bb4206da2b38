package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/brightcart/storefront-backend/pkg/db"
	"github.com/brightcart/storefront-backend/pkg/db/models"
	"github.com/brightcart/storefront-backend/pkg/enums"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
	"github.com/brightcart/storefront-backend/pkg/logger"
	"github.com/brightcart/storefront-backend/pkg/outbox"
	"github.com/brightcart/storefront-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// RecordInput carries the snapshot for one successful checkout.
type RecordInput struct {
	UserID          uuid.UUID
	PaymentIntentID uuid.UUID
	Items           []models.OrderItem
	TotalCents      int64
	Currency        enums.Currency
	ShippingAddress types.Address
}

// Recorder is the interface the checkout orchestrator records through.
type Recorder interface {
	Record(ctx context.Context, input RecordInput) (*models.Order, error)
}

// Service is the full order surface: recording plus user-facing history.
type Service interface {
	Recorder
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	GetByID(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	events *outbox.Service
	logg   *logger.Logger
}

// NewService wires the order recorder and history reads.
func NewService(repo Repository, tx txRunner, events *outbox.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, errors.New("order repository required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if events == nil {
		return nil, errors.New("outbox service required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &service{repo: repo, tx: tx, events: events, logg: logg}, nil
}

// Record persists the order exactly once per (user, payment intent) pair. A
// repeat call returns the stored order, which is what makes the orchestrator
// retry loop safe after a confirmed payment.
func (s *service) Record(ctx context.Context, input RecordInput) (*models.Order, error) {
	if input.UserID == uuid.Nil || input.PaymentIntentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and payment intent id are required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order needs at least one item")
	}
	if input.TotalCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}

	existing, err := s.repo.FindByUserAndIntent(ctx, input.UserID, input.PaymentIntentID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	order := &models.Order{
		UserID:          input.UserID,
		PaymentIntentID: input.PaymentIntentID,
		TotalCents:      input.TotalCents,
		Currency:        input.Currency,
		Status:          enums.OrderStatusPaid,
		ShippingAddress: input.ShippingAddress,
		Items:           input.Items,
	}

	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.repo.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		userID := input.UserID
		return s.events.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			UserID:        &userID,
			Version:       1,
			OccurredAt:    time.Now(),
			Data: outbox.OrderCreatedEvent{
				OrderID:         order.ID,
				UserID:          input.UserID,
				PaymentIntentID: input.PaymentIntentID,
				TotalCents:      input.TotalCents,
				Currency:        string(input.Currency),
				ItemCount:       len(input.Items),
			},
		})
	})
	if txErr != nil {
		if dbpkg.IsUniqueViolation(txErr, "ux_orders_user_intent") {
			// Lost a record race for the same confirmed payment.
			winner, findErr := s.repo.FindByUserAndIntent(ctx, input.UserID, input.PaymentIntentID)
			if findErr != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, findErr, "load order")
			}
			return winner, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, txErr, "record order")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":    order.ID,
		"total_cents": order.TotalCents,
	}), "order recorded")
	return order, nil
}

// ListByUser returns the user's orders newest first.
func (s *service) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	list, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

// GetByID scopes the lookup to the requesting user.
func (s *service) GetByID(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if userID == uuid.Nil || orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id are required")
	}
	order, err := s.repo.FindByIDAndUser(ctx, orderID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}
