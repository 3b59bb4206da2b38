package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/brightcart/storefront-backend/pkg/config"
	"github.com/brightcart/storefront-backend/pkg/enums"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
	"github.com/brightcart/storefront-backend/pkg/money"
)

// GatewayIntent is the gateway's view of a created intent.
type GatewayIntent struct {
	Reference string
}

// GatewayResult is the outcome of a confirm call. Declined is a business
// outcome, not a transport failure, so it travels in the result rather than
// in the error.
type GatewayResult struct {
	Declined      bool
	FailureReason string
}

// Gateway abstracts the external payment processor.
type Gateway interface {
	CreateIntent(ctx context.Context, key string, amountCents int64, currency enums.Currency) (*GatewayIntent, error)
	ConfirmIntent(ctx context.Context, reference string) (*GatewayResult, error)
}

// HTTPGateway talks JSON-over-HTTP to the payment processor with a bounded
// per-call timeout. Transport failures and 5xx map to the retryable gateway
// error; after a timeout no charge is guaranteed either way.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPGateway validates the configuration and builds the gateway client.
func NewHTTPGateway(cfg config.PaymentConfig) (*HTTPGateway, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("payment gateway base url is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("payment gateway api key is required")
	}
	return &HTTPGateway{
		baseURL: base,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type createIntentRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type createIntentResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type confirmResponse struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// CreateIntent registers the intent with the processor. The idempotency key
// travels as a header so a repeated create with the same key is absorbed on
// the processor side as well.
func (g *HTTPGateway) CreateIntent(ctx context.Context, key string, amountCents int64, currency enums.Currency) (*GatewayIntent, error) {
	payload := createIntentRequest{
		Amount:    money.FromCents(amountCents).StringFixed(2),
		Currency:  string(currency),
		Reference: uuid.NewString(),
	}
	var out createIntentResponse
	if err := g.post(ctx, "/v1/intents", key, payload, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodePaymentGatewayError, "gateway returned an intent without an id")
	}
	return &GatewayIntent{Reference: out.ID}, nil
}

// ConfirmIntent asks the processor to capture the intent.
func (g *HTTPGateway) ConfirmIntent(ctx context.Context, reference string) (*GatewayResult, error) {
	var out confirmResponse
	path := fmt.Sprintf("/v1/intents/%s/confirm", reference)
	if err := g.post(ctx, path, "", nil, &out); err != nil {
		return nil, err
	}
	switch out.Status {
	case "succeeded":
		return &GatewayResult{}, nil
	case "declined":
		reason := out.FailureReason
		if reason == "" {
			reason = "declined by processor"
		}
		return &GatewayResult{Declined: true, FailureReason: reason}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodePaymentGatewayError,
			fmt.Sprintf("unexpected gateway status %q", out.Status))
	}
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway request")
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePaymentGatewayError, err, "payment gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return pkgerrors.New(pkgerrors.CodePaymentGatewayError,
			fmt.Sprintf("payment gateway returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("payment gateway rejected the request with %d", resp.StatusCode))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePaymentGatewayError, err, "decode gateway response")
	}
	return nil
}
