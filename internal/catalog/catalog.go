// Package catalog answers whether a product exists in the product service.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/utafrali/wishlist-rest/pkg/errors"
	"github.com/utafrali/wishlist-rest/pkg/httpclient"
)

const serviceName = "product"

// ProductCatalog reports whether products exist.
type ProductCatalog interface {
	Exists(ctx context.Context, productID int64) (bool, error)
}

// HTTPDoer executes HTTP requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy it.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// CircuitOpenFallback turns an open breaker into a 503 instead of letting
// the raw breaker error reach the caller.
func CircuitOpenFallback(_ context.Context, _ error) (*http.Response, error) {
	return nil, apperrors.ServiceUnavailable("product catalog is temporarily unavailable")
}

// HTTPCatalog looks products up through the product service REST API.
type HTTPCatalog struct {
	client  HTTPDoer
	baseURL string
	logger  *slog.Logger
}

var _ ProductCatalog = (*HTTPCatalog)(nil)

// NewHTTPCatalog creates a catalog that calls GET {baseURL}/api/v1/products/{id}.
func NewHTTPCatalog(client HTTPDoer, baseURL string, logger *slog.Logger) *HTTPCatalog {
	return &HTTPCatalog{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// Exists returns false when the product service answers 404.
func (c *HTTPCatalog) Exists(ctx context.Context, productID int64) (bool, error) {
	url := c.baseURL + "/api/v1/products/" + strconv.FormatInt(productID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, fmt.Errorf("create product request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("call product service: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		c.logger.DebugContext(ctx, "product not found in catalog", slog.Int64("product_id", productID))
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		return true, nil
	default:
		return false, httpclient.ParseResponseError(resp, serviceName)
	}
}

// PermissiveCatalog accepts every product. It is used when no product
// service is configured.
type PermissiveCatalog struct{}

var _ ProductCatalog = PermissiveCatalog{}

func (PermissiveCatalog) Exists(_ context.Context, productID int64) (bool, error) {
	return productID > 0, nil
}
