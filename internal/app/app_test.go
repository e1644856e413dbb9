package app

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/utafrali/wishlist-rest/internal/catalog"
	"github.com/utafrali/wishlist-rest/internal/config"
)

func TestNewProductCatalog(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("no url accepts every product", func(t *testing.T) {
		c := newProductCatalog(&config.Config{}, prometheus.NewRegistry(), logger)
		assert.IsType(t, catalog.PermissiveCatalog{}, c)
	})

	t.Run("url uses the product service", func(t *testing.T) {
		cfg := &config.Config{ProductServiceURL: "http://product:8001", ProductServiceTimeout: time.Second}
		c := newProductCatalog(cfg, prometheus.NewRegistry(), logger)
		assert.IsType(t, &catalog.HTTPCatalog{}, c)
	})
}
