package controllers

import (
	"net/http"
	"strings"

	"github.com/brightcart/storefront-backend/api/middleware"
	"github.com/brightcart/storefront-backend/api/responses"
	"github.com/brightcart/storefront-backend/api/validators"
	cartsvc "github.com/brightcart/storefront-backend/internal/cart"
	checkoutsvc "github.com/brightcart/storefront-backend/internal/checkout"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
	"github.com/brightcart/storefront-backend/pkg/logger"
	"github.com/brightcart/storefront-backend/pkg/types"
)

// CheckoutPrepare reports checkout readiness without side effects.
func CheckoutPrepare(carts cartsvc.Service, prep checkoutsvc.Preparer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if carts == nil || prep == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := carts.GetCart(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		preparation, err := prep.Prepare(r.Context(), cart)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, preparation)
	}
}

// Checkout submits the cart through payment into a recorded order. The
// Idempotency-Key header doubles as the payment attempt key, so a retry with
// the same key resumes rather than double-charges.
func Checkout(orch checkoutsvc.Orchestrator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if orch == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID, err := middleware.UserIDFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		attemptKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if attemptKey == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := orch.Checkout(r.Context(), checkoutsvc.CheckoutInput{
			UserID:          userID,
			ShippingAddress: payload.ShippingAddress,
			AttemptKey:      attemptKey,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newOrderResponse(order))
	}
}

type checkoutRequest struct {
	ShippingAddress types.Address `json:"shipping_address" validate:"required"`
}
