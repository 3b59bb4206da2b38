package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/brightcart/storefront-backend/pkg/config"
	pkgerrors "github.com/brightcart/storefront-backend/pkg/errors"
)

// Product is the read-only view served by the catalog collaborator.
type Product struct {
	ID         uuid.UUID `json:"id"`
	Title      string    `json:"title"`
	ImageURL   *string   `json:"image_url,omitempty"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	IsActive   bool      `json:"is_active"`
}

// Lookup is the surface consumed by the cart and checkout services. The
// catalog is an external system of record; this subsystem never mutates it.
type Lookup interface {
	GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error)
}

// Client is an HTTP Lookup implementation with a bounded per-call timeout.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient validates the configuration and builds the catalog client.
func NewClient(cfg config.CatalogConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("catalog base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parsing catalog base url: %w", err)
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// GetProduct fetches the live price, stock, and active flag for a product.
// A catalog 404 maps to ProductUnavailable; transport failures and non-2xx
// responses map to Dependency so callers can distinguish "gone" from "down".
func (c *Client) GetProduct(ctx context.Context, productID uuid.UUID) (*Product, error) {
	endpoint := fmt.Sprintf("%s/products/%s", c.baseURL, productID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build catalog request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "catalog lookup")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, pkgerrors.New(pkgerrors.CodeProductUnavailable, "product not found").
			WithDetails(map[string]any{"product_id": productID})
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("catalog returned status %d", resp.StatusCode))
	}

	var product Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode catalog response")
	}
	return &product, nil
}
