package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/utafrali/wishlist-rest/internal/auth"
	"github.com/utafrali/wishlist-rest/internal/catalog"
	"github.com/utafrali/wishlist-rest/internal/config"
	"github.com/utafrali/wishlist-rest/internal/event"
	handler "github.com/utafrali/wishlist-rest/internal/handler/http"
	"github.com/utafrali/wishlist-rest/internal/repository"
	"github.com/utafrali/wishlist-rest/internal/repository/postgres"
	rediscache "github.com/utafrali/wishlist-rest/internal/repository/redis"
	"github.com/utafrali/wishlist-rest/internal/service"
	"github.com/utafrali/wishlist-rest/migrations"
	"github.com/utafrali/wishlist-rest/pkg/database"
	"github.com/utafrali/wishlist-rest/pkg/health"
	"github.com/utafrali/wishlist-rest/pkg/httpclient"
	pkgkafka "github.com/utafrali/wishlist-rest/pkg/kafka"
	"github.com/utafrali/wishlist-rest/pkg/middleware"
	"github.com/utafrali/wishlist-rest/pkg/tracing"
)

const metricsNamespace = "wishlist"

// App wires together all dependencies and runs the wishlist service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	dlq            *pkgkafka.DLQProducer
	productDeleted *pkgkafka.Consumer
	idempotency    *pkgkafka.MemoryIdempotencyStore
	httpServer     *http.Server
	tracerShutdown tracing.ShutdownFunc
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    "wishlist",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		Insecure:       cfg.IsDevelopment(),
		SampleRate:     cfg.OTELSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize PostgreSQL connection pool.
	pool, err := database.NewPostgresPool(ctx, &database.PostgresConfig{
		Host:            cfg.PostgresHost,
		Port:            cfg.PostgresPort,
		User:            cfg.PostgresUser,
		Password:        cfg.PostgresPass,
		DBName:          cfg.PostgresDB,
		SSLMode:         cfg.PostgresSSL,
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(reg, pool, metricsNamespace); err != nil {
		a.closeStores()
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		a.closeStores()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, logger)
	}

	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})

	// Repository, optionally behind the Redis read cache.
	var repo repository.WishlistRepository = postgres.NewWishlistRepository(pool)
	if cfg.CacheEnabled {
		client, err := database.NewRedisClient(ctx, database.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, serving without cache",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		} else {
			a.redis = client
			repo = rediscache.NewCachedWishlistRepository(repo, client, cfg.CacheTTL, logger,
				rediscache.NewCacheMetrics(reg, metricsNamespace))
			healthHandler.RegisterNonCritical("redis", func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			})
			logger.Info("wishlist cache enabled", slog.Duration("ttl", cfg.CacheTTL))
		}
	}

	products := newProductCatalog(cfg, reg, logger)

	// Kafka producer and the product.deleted consumer.
	var kafkaMetrics *pkgkafka.Metrics
	var publisher event.Publisher
	if cfg.KafkaEnabled {
		kafkaMetrics = pkgkafka.NewMetrics(reg, metricsNamespace)
		a.producer = pkgkafka.NewProducer(pkgkafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			BatchSize:    1,
			BatchTimeout: 10 * time.Millisecond,
		}, logger, kafkaMetrics)
		if err := pingKafkaWithRetry(ctx, a.producer, logger); err != nil {
			logger.Warn("kafka producer ping failed after retries, continuing in degraded mode",
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))
		}
		publisher = a.producer
		healthHandler.RegisterNonCritical("kafka", a.producer.Ping)
	}

	// Build the dependency graph.
	wishlistService := service.NewWishlistService(repo, products, event.NewProducer(publisher, logger), logger)

	if cfg.KafkaEnabled {
		a.dlq = pkgkafka.NewDLQProducer(cfg.KafkaBrokers, logger)
		a.idempotency = pkgkafka.NewMemoryIdempotencyStore(24 * time.Hour)
		consumerHandler := event.NewConsumerHandler(wishlistService, logger)
		a.productDeleted = pkgkafka.NewConsumer(pkgkafka.ConsumerConfig{
			Brokers:  cfg.KafkaBrokers,
			GroupID:  cfg.KafkaConsumerGroup,
			Topic:    event.TopicProductDeleted,
			MinBytes: 1,
			MaxBytes: 10e6,
		}, consumerHandler.Handle, logger,
			pkgkafka.WithDLQ(a.dlq),
			pkgkafka.WithMetrics(kafkaMetrics),
			pkgkafka.WithIdempotency(a.idempotency),
		)
	}

	// HTTP router.
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, 15*time.Minute)
	cors := middleware.DefaultCORSConfig()
	cors.AllowedOrigins = cfg.CORSAllowedOrigins

	router := handler.NewRouter(wishlistService, healthHandler, logger, handler.RouterConfig{
		APIPrefix:      cfg.APIPrefix,
		CORS:           cors,
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
		TokenValidator: jwtManager.Identity,
		Metrics:        middleware.NewHTTPMetrics(reg, metricsNamespace),
		Gatherer:       reg,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// newProductCatalog returns the product service client, or a catalog that
// accepts every product when no service URL is configured.
func newProductCatalog(cfg *config.Config, reg prometheus.Registerer, logger *slog.Logger) catalog.ProductCatalog {
	if cfg.ProductServiceURL == "" {
		logger.Warn("PRODUCT_SERVICE_URL not set, product ids are not checked against the catalog")
		return catalog.PermissiveCatalog{}
	}

	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.ProductServiceTimeout
	breaker := httpclient.NewCircuitBreakerClient(
		httpclient.New(clientCfg),
		httpclient.DefaultCircuitBreakerConfig("product-service"),
		logger,
		httpclient.NewBreakerMetrics(reg, metricsNamespace),
	).WithFallback(catalog.CircuitOpenFallback)

	logger.Info("product catalog configured", slog.String("url", cfg.ProductServiceURL))
	return catalog.NewHTTPCatalog(breaker, cfg.ProductServiceURL, logger)
}

// Run starts the HTTP server and the Kafka consumer, then blocks until the
// context is canceled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	// Start HTTP server.
	g.Go(func() error {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Start the product.deleted consumer.
	if a.productDeleted != nil {
		g.Go(func() error {
			if err := a.productDeleted.Start(gctx); err != nil {
				return fmt.Errorf("product deleted consumer: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			a.sweepIdempotency(gctx)
			return nil
		})
	}

	// Shut down once the signal arrives or a component fails.
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.logger.Info("shutdown signal received")
		}
		return a.Shutdown()
	})

	return g.Wait()
}

// sweepIdempotency drops expired event IDs every few minutes.
func (a *App) sweepIdempotency(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.idempotency.Sweep(); n > 0 {
				a.logger.Debug("idempotency store swept", slog.Int("removed", n))
			}
		}
	}
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka consumer, DLQ and producer
// 4. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Drain in-flight HTTP requests (5s budget).
	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// 2. Flush pending spans after the HTTP drain.
	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 3. Close Kafka clients.
	if a.productDeleted != nil {
		if err := a.productDeleted.Close(); err != nil {
			a.logger.Error("product deleted consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.dlq != nil {
		if err := a.dlq.Close(); err != nil {
			a.logger.Error("dlq producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	// 4. Close stores.
	if err := a.closeStores(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeStores() error {
	var err error
	if a.redis != nil {
		if err = a.redis.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return err
}

// pingKafkaWithRetry attempts to ping the Kafka producer with exponential
// backoff (3 attempts, 1s/2s with ±25% jitter between them).
func pingKafkaWithRetry(ctx context.Context, producer *pkgkafka.Producer, logger *slog.Logger) error {
	const attempts = 3
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if lastErr = producer.Ping(ctx); lastErr == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}
		base := time.Duration(1<<uint(attempt)) * time.Second
		jitter := time.Duration(float64(base) * 0.25 * (2*rand.Float64() - 1)) // #nosec G404 -- non-cryptographic jitter for retry backoff
		wait := base + jitter
		logger.Warn("kafka producer ping failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", attempts),
			slog.Duration("backoff", wait),
			slog.String("error", lastErr.Error()),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("kafka ping: context canceled during retry: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("kafka producer ping failed after %d attempts: %w", attempts, lastErr)
}
