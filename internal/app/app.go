package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/cart"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/checkout"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/config"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/discount"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/event"
	handler "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/handler/http"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/inventory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/metrics"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/order"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/pricing"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider/mock"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/provider/remote"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository/memory"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository/postgres"
	redisrepo "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/internal/repository/redis"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/migrations"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/clock"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/database"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/health"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/httpclient"
	pkgkafka "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/kafka"
	"github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/tracing"
)

const (
	serviceName      = "commerce-engine"
	memoryEventLimit = 1000
)

// Engine groups the services a host calls into. All of them share one
// clock, event producer and metrics set.
type Engine struct {
	Inventory *inventory.Ledger
	Discounts *discount.Engine
	Pricing   *pricing.Resolver
	Carts     *cart.Service
	Checkout  *checkout.Service
	Orders    *order.Service
	Products  repository.ProductRepository
}

// stores is the storage chosen by STORE_BACKEND.
type stores struct {
	ledger    repository.LedgerStore
	products  repository.ProductRepository
	discounts repository.DiscountRepository
	carts     repository.CartRepository
	orders    repository.OrderRepository
	checkouts repository.CheckoutRepository
}

// closer releases a resource on shutdown.
type closer struct {
	name string
	fn   func() error
}

// App wires together all dependencies and runs the engine host.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	engine         *Engine
	httpServer     *http.Server
	sweeper        *Sweeper
	closers        []closer
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
// Metrics are registered with the default Prometheus registry, so NewApp is
// called once per process.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    serviceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	healthHandler := health.NewHandler()

	var st *stores
	switch cfg.StoreBackend {
	case config.BackendMemory:
		st = memoryStores()
		logger.Warn("using in-memory storage; state is lost on restart")
	default:
		st, err = a.postgresStores(ctx, healthHandler)
		if err != nil {
			a.closeAll()
			return nil, err
		}
	}

	publisher := a.publisher(healthHandler)
	payments, taxes, shipping := a.collaborators()

	clk := clock.System{}
	m := metrics.New(prometheus.DefaultRegisterer)
	producer := event.NewProducer(publisher, clk, logger)

	// Build the dependency graph.
	ledger := inventory.NewLedger(st.ledger, producer, m, clk, logger, cfg.ReservationTTL())
	discounts := discount.NewEngine(st.discounts, clk, m, logger)
	pricer := pricing.NewResolver(taxes, clk, logger, cfg.TaxIncluded)
	quoter := cart.NewQuoter(pricer, discounts)
	carts := cart.NewService(st.carts, st.products, ledger, quoter, shipping, producer, m, clk, logger, cfg.DefaultCurrency)
	orders := order.NewService(st.orders, ledger, producer, m, clk, logger)
	checkouts := checkout.NewService(
		st.checkouts,
		carts,
		quoter,
		ledger,
		orders,
		payments,
		shipping,
		producer,
		m,
		clk,
		logger,
		cfg.CheckoutTTL(),
	)

	a.engine = &Engine{
		Inventory: ledger,
		Discounts: discounts,
		Pricing:   pricer,
		Carts:     carts,
		Checkout:  checkouts,
		Orders:    orders,
		Products:  st.products,
	}

	router := handler.NewRouter(ledger, orders, healthHandler, logger)
	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.sweeper = NewSweeper(ledger, cfg.SweepInterval(), logger)

	return a, nil
}

// Engine returns the wired engine services.
func (a *App) Engine() *Engine {
	return a.engine
}

// Handler returns the ops HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

func memoryStores() *stores {
	return &stores{
		ledger:    memory.NewLedgerStore(),
		products:  memory.NewProductRepository(),
		discounts: memory.NewDiscountRepository(),
		carts:     memory.NewCartRepository(),
		orders:    memory.NewOrderRepository(),
		checkouts: memory.NewCheckoutRepository(),
	}
}

func (a *App) postgresStores(ctx context.Context, healthHandler *health.Handler) (*stores, error) {
	cfg := a.cfg

	pool, err := database.NewPostgresPool(ctx, database.PostgresConfig{
		DSN:             cfg.PostgresDSN(),
		MaxConns:        cfg.DBMaxConns,
		MinConns:        cfg.DBMinConns,
		MaxConnLifetime: time.Duration(cfg.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(cfg.DBMaxConnIdleTimeMins) * time.Minute,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.closers = append(a.closers, closer{name: "postgres", fn: func() error { pool.Close(); return nil }})
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, serviceName); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(time.Duration(cfg.SlowQueryThresholdMs)*time.Millisecond, a.logger)
	}

	rdb, err := database.NewRedisClient(ctx, database.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.closers = append(a.closers, closer{name: "redis", fn: rdb.Close})
	a.logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterCritical("redis", func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})

	return &stores{
		ledger:    postgres.NewLedgerStore(pool),
		products:  postgres.NewProductRepository(pool),
		discounts: postgres.NewDiscountRepository(pool),
		carts:     redisrepo.NewCartRepository(rdb, cfg.CartTTL()),
		orders:    postgres.NewOrderRepository(pool),
		checkouts: postgres.NewCheckoutRepository(pool),
	}, nil
}

// publisher returns a Kafka producer when brokers are configured, otherwise
// a bounded in-memory log.
func (a *App) publisher(healthHandler *health.Handler) pkgkafka.Publisher {
	if len(a.cfg.KafkaBrokers) == 0 {
		a.logger.Warn("no kafka brokers configured; domain events stay in memory")
		return event.NewMemoryPublisher(memoryEventLimit)
	}

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(a.cfg.KafkaBrokers), a.logger)
	a.closers = append(a.closers, closer{name: "kafka", fn: producer.Close})
	healthHandler.Register("kafka", producer.Ping)
	a.logger.Info("kafka producer initialized", slog.Any("brokers", a.cfg.KafkaBrokers))
	return producer
}

// collaborators builds the payment, tax and shipping sources. A collaborator
// without a configured URL is served by its in-process mock.
func (a *App) collaborators() (provider.PaymentProvider, provider.TaxRateSource, provider.ShippingRateSource) {
	cfg := a.cfg

	var (
		payments provider.PaymentProvider    = mock.NewPaymentProvider()
		taxes    provider.TaxRateSource      = mock.NewTaxRates(decimal.Zero)
		shipping provider.ShippingRateSource = mock.NewShippingRates(cfg.DefaultCurrency)
	)

	base := httpclient.New(httpclient.Config{
		Timeout:         time.Duration(cfg.HTTPClientTimeoutSeconds) * time.Second,
		MaxRetries:      cfg.HTTPClientMaxRetries,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		MaxConnsPerHost: 50,
		RateLimit:       cfg.HTTPClientRateLimit,
		RateBurst:       cfg.HTTPClientRateBurst,
	})
	breaker := func(name string) remote.Doer {
		cbCfg := httpclient.CircuitBreakerConfig{
			Name:         name,
			MaxRequests:  cfg.CBMaxRequests,
			Interval:     time.Duration(cfg.CBInterval) * time.Second,
			Timeout:      time.Duration(cfg.CBTimeout) * time.Second,
			FailureRatio: cfg.CBFailureRatio,
			MinRequests:  cfg.CBMinRequests,
		}
		a.logger.Info("circuit breaker initialized",
			slog.String("name", cbCfg.Name),
			slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
			slog.Int("timeout_seconds", cfg.CBTimeout),
		)
		return httpclient.NewCircuitBreakerClient(base, cbCfg, a.logger)
	}

	if cfg.PaymentServiceURL != "" {
		payments = remote.NewPaymentProvider(breaker("payment"), cfg.PaymentServiceURL, a.logger)
	}
	if cfg.TaxServiceURL != "" {
		taxes = remote.NewTaxRates(breaker("tax"), cfg.TaxServiceURL)
	}
	if cfg.ShippingServiceURL != "" {
		shipping = remote.NewShippingRates(breaker("shipping"), cfg.ShippingServiceURL)
	}
	a.logger.Info("collaborators configured", slog.String("payment_provider", payments.Name()))
	return payments, taxes, shipping
}

// Run starts the HTTP server and the reservation sweep and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go a.sweeper.Run(sweepCtx)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		stopSweep()
		return errors.Join(err, a.Shutdown())
	}

	stopSweep()
	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer, Redis client and PostgreSQL pool, newest first
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.closeAll(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Error("close error", slog.String("component", c.name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
