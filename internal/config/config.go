package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	pkgconfig "github.com/lotusalgebra/UAlgora.Ecommerce-sub011/pkg/config"
)

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config holds all configuration for the commerce engine host.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP ops server
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// STORE_BACKEND selects durable storage. "memory" keeps everything in
	// process and skips Postgres, Redis and Kafka.
	StoreBackend string `env:"STORE_BACKEND" envDefault:"postgres"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"commerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"commerce_secret"`
	PostgresDB   string `env:"POSTGRES_DB" envDefault:"commerce"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`
	SlowQueryThresholdMs  int   `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Redis (cart store)
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka. Events go to a bounded in-memory log when no brokers are set.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// Engine timings
	ReservationTTLSeconds int `env:"RESERVATION_TTL_SECONDS" envDefault:"900"`
	CheckoutTTLSeconds    int `env:"CHECKOUT_TTL_SECONDS" envDefault:"1800"`
	CartTTLHours          int `env:"CART_TTL_HOURS" envDefault:"168"`
	SweepIntervalSeconds  int `env:"SWEEP_INTERVAL_SECONDS" envDefault:"60"`

	// Pricing
	DefaultCurrency string `env:"DEFAULT_CURRENCY" envDefault:"USD"`
	TaxIncluded     bool   `env:"TAX_INCLUDED" envDefault:"false"`

	// Collaborators. An empty URL selects the in-process mock.
	PaymentServiceURL  string `env:"PAYMENT_SERVICE_URL"`
	TaxServiceURL      string `env:"TAX_SERVICE_URL"`
	ShippingServiceURL string `env:"SHIPPING_SERVICE_URL"`

	// Outbound HTTP
	HTTPClientTimeoutSeconds int     `env:"HTTP_CLIENT_TIMEOUT_SECONDS" envDefault:"10"`
	HTTPClientMaxRetries     int     `env:"HTTP_CLIENT_MAX_RETRIES" envDefault:"2"`
	HTTPClientRateLimit      float64 `env:"HTTP_CLIENT_RATE_LIMIT" envDefault:"50"`
	HTTPClientRateBurst      int     `env:"HTTP_CLIENT_RATE_BURST" envDefault:"10"`

	// Circuit breaker settings for collaborator calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load engine config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required")
		}
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendPostgres, BackendMemory, c.StoreBackend)
	}

	for name, v := range map[string]int{
		"RESERVATION_TTL_SECONDS": c.ReservationTTLSeconds,
		"CHECKOUT_TTL_SECONDS":    c.CheckoutTTLSeconds,
		"CART_TTL_HOURS":          c.CartTTLHours,
		"SWEEP_INTERVAL_SECONDS":  c.SweepIntervalSeconds,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	if c.CheckoutTTLSeconds < c.ReservationTTLSeconds {
		return fmt.Errorf("CHECKOUT_TTL_SECONDS (%d) must not be shorter than RESERVATION_TTL_SECONDS (%d)",
			c.CheckoutTTLSeconds, c.ReservationTTLSeconds)
	}

	if len(c.DefaultCurrency) != 3 {
		return fmt.Errorf("DEFAULT_CURRENCY must be a 3-letter code, got %q", c.DefaultCurrency)
	}
	if strings.ToUpper(c.DefaultCurrency) != c.DefaultCurrency {
		return fmt.Errorf("DEFAULT_CURRENCY must be upper case, got %q", c.DefaultCurrency)
	}

	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1.0 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0, 1], got %f", c.CBFailureRatio)
	}

	for name, rawURL := range map[string]string{
		"PAYMENT_SERVICE_URL":  c.PaymentServiceURL,
		"TAX_SERVICE_URL":      c.TaxServiceURL,
		"SHIPPING_SERVICE_URL": c.ShippingServiceURL,
	} {
		if rawURL == "" {
			continue
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, rawURL, err)
		}
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser), url.QueryEscape(c.PostgresPass),
		c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// ReservationTTL is how long a stock hold lives before the sweep frees it.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLSeconds) * time.Second
}

// CheckoutTTL is the lifetime of a checkout session.
func (c *Config) CheckoutTTL() time.Duration {
	return time.Duration(c.CheckoutTTLSeconds) * time.Second
}

// CartTTL is the idle lifetime of a stored cart.
func (c *Config) CartTTL() time.Duration {
	return time.Duration(c.CartTTLHours) * time.Hour
}

// SweepInterval is the period of the expired-reservation sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}
