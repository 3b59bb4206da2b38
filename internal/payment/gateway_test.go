package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/brightcart/storefront-backend/pkg/config"
	"github.com/brightcart/storefront-backend/pkg/enums"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
)

func newTestGateway(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	gw, err := NewHTTPGateway(config.PaymentConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestGatewayCreateIntent(t *testing.T) {
	t.Parallel()

	var gotKey, gotAuth string
	var gotBody createIntentRequest
	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/intents" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(createIntentResponse{ID: "gw-42", Status: "created"})
	})

	intent, err := gw.CreateIntent(context.Background(), "key-1", 2550, enums.CurrencyUSD)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if intent.Reference != "gw-42" {
		t.Fatalf("unexpected reference %q", intent.Reference)
	}
	if gotKey != "key-1" || gotAuth != "Bearer test-key" {
		t.Fatalf("unexpected headers key=%q auth=%q", gotKey, gotAuth)
	}
	if gotBody.Amount != "25.50" || gotBody.Currency != "USD" {
		t.Fatalf("unexpected payload %+v", gotBody)
	}
}

func TestGatewayConfirmOutcomes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response confirmResponse
		declined bool
		reason   string
	}{
		{name: "succeeded", response: confirmResponse{Status: "succeeded"}},
		{name: "declined", response: confirmResponse{Status: "declined", FailureReason: "card expired"}, declined: true, reason: "card expired"},
		{name: "declined without reason", response: confirmResponse{Status: "declined"}, declined: true, reason: "declined by processor"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/intents/gw-42/confirm" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(tc.response)
			})

			result, err := gw.ConfirmIntent(context.Background(), "gw-42")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Declined != tc.declined || result.FailureReason != tc.reason {
				t.Fatalf("unexpected result %+v", result)
			}
		})
	}
}

func TestGatewayServerErrorIsRetryable(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := gw.ConfirmIntent(context.Background(), "gw-42")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodePaymentGatewayError {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if !pkgerrors.IsRetryable(err) {
		t.Fatal("5xx must be retryable")
	}
}

func TestGatewayClientErrorMapsToDependency(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	})

	_, err := gw.ConfirmIntent(context.Background(), "gw-42")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
}

func TestGatewayTimeout(t *testing.T) {
	t.Parallel()

	gw := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	gw.http.Timeout = 50 * time.Millisecond

	_, err := gw.ConfirmIntent(context.Background(), "gw-42")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodePaymentGatewayError {
		t.Fatalf("expected gateway error on timeout, got %v", err)
	}
}
