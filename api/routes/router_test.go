package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/brightcart/storefront-backend/internal/checkout"
	"github.com/brightcart/storefront-backend/internal/orders"
	"github.com/brightcart/storefront-backend/pkg/config"
	"github.com/brightcart/storefront-backend/pkg/db/models"
	"github.com/brightcart/storefront-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubCartService struct{}

func (stubCartService) GetCart(_ context.Context, userID uuid.UUID) (*models.Cart, error) {
	return &models.Cart{UserID: userID, Items: []models.CartItem{}}, nil
}

func (stubCartService) AddItem(context.Context, uuid.UUID, uuid.UUID, int) (*models.Cart, error) {
	return &models.Cart{Items: []models.CartItem{}}, nil
}

func (stubCartService) UpdateItem(context.Context, uuid.UUID, uuid.UUID, int) (*models.Cart, error) {
	return &models.Cart{Items: []models.CartItem{}}, nil
}

func (stubCartService) RemoveItem(context.Context, uuid.UUID, uuid.UUID) (*models.Cart, error) {
	return &models.Cart{Items: []models.CartItem{}}, nil
}

func (stubCartService) ClearCart(context.Context, uuid.UUID) (*models.Cart, error) {
	return &models.Cart{Items: []models.CartItem{}}, nil
}

func (stubCartService) SyncPrices(context.Context, uuid.UUID) (*models.Cart, error) {
	return &models.Cart{Items: []models.CartItem{}}, nil
}

type stubPreparer struct{}

func (stubPreparer) Prepare(_ context.Context, c *models.Cart) (*checkout.Preparation, error) {
	return &checkout.Preparation{CartID: c.ID, Lines: []checkout.PreparedLine{}, AvailableForCheckout: true}, nil
}

func (stubPreparer) SubtotalCents(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}

type stubOrchestrator struct{}

func (stubOrchestrator) Checkout(context.Context, checkout.CheckoutInput) (*models.Order, error) {
	return &models.Order{Items: []models.OrderItem{}}, nil
}

type stubOrdersService struct{}

func (stubOrdersService) Record(context.Context, orders.RecordInput) (*models.Order, error) {
	return &models.Order{}, nil
}

func (stubOrdersService) ListByUser(context.Context, uuid.UUID) ([]models.Order, error) {
	return []models.Order{}, nil
}

func (stubOrdersService) GetByID(context.Context, uuid.UUID, uuid.UUID) (*models.Order, error) {
	return &models.Order{Items: []models.OrderItem{}}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	cfg.App.Env = "test"
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	return NewRouter(cfg, logg, stubPinger{}, nil, stubCartService{}, stubPreparer{}, stubOrchestrator{}, stubOrdersService{}, nil)
}

func TestHealthLive(t *testing.T) {
	router := newTestRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if resp.Header().Get("X-Storefront-Env") != "test" {
		t.Fatalf("expected env header, got %q", resp.Header().Get("X-Storefront-Env"))
	}
}

func TestAPIRoutesRequireIdentity(t *testing.T) {
	router := newTestRouter(t)

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestCartRouteWithIdentity(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("X-User-Id", uuid.NewString())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", resp.Code, resp.Body.String())
	}
	var payload struct {
		Data struct {
			Items []any `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if payload.Data.Items == nil {
		t.Fatal("expected items array in cart payload")
	}
}

func TestCheckoutRequiresIdempotencyKey(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(`{}`))
	req.Header.Set("X-User-Id", uuid.NewString())
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d: %s", resp.Code, resp.Body.String())
	}
}
