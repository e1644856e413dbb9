package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/wishlist-rest/pkg/health"
	"github.com/utafrali/wishlist-rest/pkg/httputil"
	"github.com/utafrali/wishlist-rest/pkg/middleware"
)

// RouterConfig holds what NewRouter needs besides the service.
type RouterConfig struct {
	// APIPrefix is where Namespace is mounted, e.g. "/wp-json".
	APIPrefix      string
	CORS           middleware.CORSConfig
	PprofCIDRs     []string
	TokenValidator middleware.TokenValidator
	Metrics        *middleware.HTTPMetrics
	Gatherer       prometheus.Gatherer
	Routes         RegisterOptions
}

// NewRouter creates a chi router with all wishlist service routes registered.
func NewRouter(
	wishlistService WishlistService,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Handler)
	}
	r.Use(middleware.Tracing("wishlist"))
	if cfg.TokenValidator != nil {
		r.Use(middleware.Authenticate(cfg.TokenValidator))
	}
	r.Use(middleware.RequestLogger(logger))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorBody(w, r, http.StatusNotFound, "rest_no_route", "No route was found matching the URL and request method.")
	})

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// Pprof debug endpoints with IP allowlist.
	if len(cfg.PprofCIDRs) > 0 {
		middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)
	}

	// Wishlist REST namespace
	wishlistHandler := NewWishlistHandler(wishlistService, logger)

	r.Route(strings.TrimRight(cfg.APIPrefix, "/")+"/"+Namespace, func(r chi.Router) {
		r.Use(middleware.NoStore)
		RegisterRoutes(r, wishlistHandler.Routes(), cfg.Routes)
	})

	return r
}
