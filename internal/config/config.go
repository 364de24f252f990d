// Package config loads reconciler configuration. An optional YAML file is read
// with koanf and environment variables override any value it sets.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration
type Config struct {
	Server         ServerConfig
	Store          StoreConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Stripe         StripeConfig
	Commercetools  CommercetoolsConfig
	Reconciliation ReconciliationConfig
	Secrets        SecretsConfig
	Logger         LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	MetricsPort     int
	WebhookPath     string
	ShutdownTimeout time.Duration

	// Per-IP limit on the webhook route
	WebhookRateLimit float64
	WebhookBurst     int
}

// StoreConfig selects the ledger and inbox backend
type StoreConfig struct {
	Backend string // memory, postgres, redis
}

// DatabaseConfig holds PostgreSQL configuration. URL wins over the discrete fields.
type DatabaseConfig struct {
	URL      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// StripeConfig holds Stripe credentials and client limits. The *Secret fields
// name secret-manager paths used when the inline value is empty.
type StripeConfig struct {
	APIKey              string
	APIKeySecret        string
	WebhookSecret       string
	WebhookSecretSecret string
	APIURL              string // empty means api.stripe.com
	WebhookTolerance    time.Duration
	RequestsPerSecond   float64
	Burst               int
}

// CommercetoolsConfig holds commercetools project credentials
type CommercetoolsConfig struct {
	APIURL             string
	AuthURL            string
	ProjectKey         string
	ClientID           string
	ClientSecret       string
	ClientSecretSecret string
	Scopes             []string
}

// ReconciliationConfig tunes the reconciliation pipeline
type ReconciliationConfig struct {
	CaptureMethod      string // automatic or manual
	MaxConflictRetries int

	RedriveInterval    time.Duration
	RedriveBatchSize   int
	RedriveMaxAttempts int

	WebhookTimeout time.Duration
	EventTimeout   time.Duration
	GatewayTimeout time.Duration
	OrderTimeout   time.Duration
	LedgerTimeout  time.Duration
}

// SecretsConfig selects the secret manager backend
type SecretsConfig struct {
	Provider  string // aws, vault, local
	LocalPath string
	CacheTTL  time.Duration

	AWSRegion   string
	AWSProfile  string
	AWSEndpoint string

	VaultAddress    string
	VaultAuthMethod string
	VaultToken      string
	VaultRoleID     string
	VaultSecretID   string
	VaultK8sRole    string
	VaultMountPath  string
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// Load reads configFilePath (optional) and the environment. Environment
// variables take precedence over file values. All parse and validation
// problems are returned together.
func Load(configFilePath string) (*Config, error) {
	k := koanf.New(".")
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFilePath, err)
		}
	}
	s := &source{k: k}

	cfg := &Config{
		Server: ServerConfig{
			Host:             s.str("SERVER_HOST", "server.host", "0.0.0.0"),
			Port:             s.integer("SERVER_PORT", "server.port", 8080),
			MetricsPort:      s.integer("METRICS_PORT", "server.metrics_port", 9090),
			WebhookPath:      s.str("WEBHOOK_PATH", "server.webhook_path", "/webhooks/stripe"),
			ShutdownTimeout:  s.duration("SHUTDOWN_TIMEOUT", "server.shutdown_timeout", 30*time.Second),
			WebhookRateLimit: s.float("WEBHOOK_RATE_LIMIT", "server.webhook_rate_limit", 50),
			WebhookBurst:     s.integer("WEBHOOK_BURST", "server.webhook_burst", 100),
		},
		Store: StoreConfig{
			Backend: s.str("STORE_BACKEND", "store.backend", "postgres"),
		},
		Database: DatabaseConfig{
			URL:      s.str("DATABASE_URL", "database.url", ""),
			Host:     s.str("DB_HOST", "database.host", "localhost"),
			Port:     s.integer("DB_PORT", "database.port", 5432),
			User:     s.str("DB_USER", "database.user", "postgres"),
			Password: s.str("DB_PASSWORD", "database.password", ""),
			Database: s.str("DB_NAME", "database.name", "payment_reconciler"),
			SSLMode:  s.str("DB_SSL_MODE", "database.ssl_mode", "disable"),
			MaxConns: int32(s.integer("DB_MAX_CONNS", "database.max_conns", 25)),
			MinConns: int32(s.integer("DB_MIN_CONNS", "database.min_conns", 2)),
		},
		Redis: RedisConfig{
			Addr:      s.str("REDIS_ADDR", "redis.addr", "localhost:6379"),
			Password:  s.str("REDIS_PASSWORD", "redis.password", ""),
			DB:        s.integer("REDIS_DB", "redis.db", 0),
			KeyPrefix: s.str("REDIS_KEY_PREFIX", "redis.key_prefix", "reconciler:"),
		},
		Stripe: StripeConfig{
			APIKey:              s.str("STRIPE_API_KEY", "stripe.api_key", ""),
			APIKeySecret:        s.str("STRIPE_API_KEY_SECRET", "stripe.api_key_secret", ""),
			WebhookSecret:       s.str("STRIPE_WEBHOOK_SECRET", "stripe.webhook_secret", ""),
			WebhookSecretSecret: s.str("STRIPE_WEBHOOK_SECRET_SECRET", "stripe.webhook_secret_secret", ""),
			APIURL:              s.str("STRIPE_API_URL", "stripe.api_url", ""),
			WebhookTolerance:    s.duration("STRIPE_WEBHOOK_TOLERANCE", "stripe.webhook_tolerance", 5*time.Minute),
			RequestsPerSecond:   s.float("STRIPE_RPS", "stripe.requests_per_second", 25),
			Burst:               s.integer("STRIPE_BURST", "stripe.burst", 10),
		},
		Commercetools: CommercetoolsConfig{
			APIURL:             s.str("CTP_API_URL", "commercetools.api_url", ""),
			AuthURL:            s.str("CTP_AUTH_URL", "commercetools.auth_url", ""),
			ProjectKey:         s.str("CTP_PROJECT_KEY", "commercetools.project_key", ""),
			ClientID:           s.str("CTP_CLIENT_ID", "commercetools.client_id", ""),
			ClientSecret:       s.str("CTP_CLIENT_SECRET", "commercetools.client_secret", ""),
			ClientSecretSecret: s.str("CTP_CLIENT_SECRET_SECRET", "commercetools.client_secret_secret", ""),
			Scopes:             s.list("CTP_SCOPES", "commercetools.scopes"),
		},
		Reconciliation: ReconciliationConfig{
			CaptureMethod:      s.str("CAPTURE_METHOD", "reconciliation.capture_method", "automatic"),
			MaxConflictRetries: s.integer("MAX_CONFLICT_RETRIES", "reconciliation.max_conflict_retries", 5),
			RedriveInterval:    s.duration("REDRIVE_INTERVAL", "reconciliation.redrive_interval", 30*time.Second),
			RedriveBatchSize:   s.integer("REDRIVE_BATCH_SIZE", "reconciliation.redrive_batch_size", 50),
			RedriveMaxAttempts: s.integer("REDRIVE_MAX_ATTEMPTS", "reconciliation.redrive_max_attempts", 8),
			WebhookTimeout:     s.duration("WEBHOOK_TIMEOUT", "reconciliation.webhook_timeout", 20*time.Second),
			EventTimeout:       s.duration("EVENT_TIMEOUT", "reconciliation.event_timeout", 15*time.Second),
			GatewayTimeout:     s.duration("GATEWAY_TIMEOUT", "reconciliation.gateway_timeout", 8*time.Second),
			OrderTimeout:       s.duration("ORDER_TIMEOUT", "reconciliation.order_timeout", 8*time.Second),
			LedgerTimeout:      s.duration("LEDGER_TIMEOUT", "reconciliation.ledger_timeout", 2*time.Second),
		},
		Secrets: SecretsConfig{
			Provider:        s.str("SECRET_MANAGER", "secrets.provider", "local"),
			LocalPath:       s.str("SECRETS_LOCAL_PATH", "secrets.local_path", "./secrets"),
			CacheTTL:        s.duration("SECRET_CACHE_TTL", "secrets.cache_ttl", 5*time.Minute),
			AWSRegion:       s.str("AWS_REGION", "secrets.aws_region", "us-east-1"),
			AWSProfile:      s.str("AWS_PROFILE", "secrets.aws_profile", ""),
			AWSEndpoint:     s.str("AWS_SECRETS_ENDPOINT", "secrets.aws_endpoint", ""),
			VaultAddress:    s.str("VAULT_ADDR", "secrets.vault_address", ""),
			VaultAuthMethod: s.str("VAULT_AUTH_METHOD", "secrets.vault_auth_method", "token"),
			VaultToken:      s.str("VAULT_TOKEN", "secrets.vault_token", ""),
			VaultRoleID:     s.str("VAULT_ROLE_ID", "secrets.vault_role_id", ""),
			VaultSecretID:   s.str("VAULT_SECRET_ID", "secrets.vault_secret_id", ""),
			VaultK8sRole:    s.str("VAULT_K8S_ROLE", "secrets.vault_k8s_role", ""),
			VaultMountPath:  s.str("VAULT_MOUNT_PATH", "secrets.vault_mount_path", "secret"),
		},
		Logger: LoggerConfig{
			Level:       s.str("LOG_LEVEL", "logger.level", "info"),
			Development: s.boolean("LOG_DEVELOPMENT", "logger.development", false),
		},
	}

	errs := append(s.errs, cfg.Validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting
func (c *Config) Validate() []error {
	var errs []error
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.Store.Backend {
	case "memory":
	case "postgres":
		require(c.Database.URL != "" || c.Database.Password != "", "DATABASE_URL or DB_PASSWORD is required for the postgres store")
	case "redis":
		require(c.Redis.Addr != "", "REDIS_ADDR is required for the redis store")
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be memory, postgres or redis, got %q", c.Store.Backend))
	}

	require(c.Stripe.APIKey != "" || c.Stripe.APIKeySecret != "", "STRIPE_API_KEY or STRIPE_API_KEY_SECRET is required")
	require(c.Stripe.WebhookSecret != "" || c.Stripe.WebhookSecretSecret != "", "STRIPE_WEBHOOK_SECRET or STRIPE_WEBHOOK_SECRET_SECRET is required")
	require(c.Stripe.RequestsPerSecond > 0, "STRIPE_RPS must be positive")

	require(c.Commercetools.APIURL != "", "CTP_API_URL is required")
	require(c.Commercetools.AuthURL != "", "CTP_AUTH_URL is required")
	require(c.Commercetools.ProjectKey != "", "CTP_PROJECT_KEY is required")
	require(c.Commercetools.ClientID != "", "CTP_CLIENT_ID is required")
	require(c.Commercetools.ClientSecret != "" || c.Commercetools.ClientSecretSecret != "", "CTP_CLIENT_SECRET or CTP_CLIENT_SECRET_SECRET is required")

	switch c.Reconciliation.CaptureMethod {
	case "automatic", "manual":
	default:
		errs = append(errs, fmt.Errorf("CAPTURE_METHOD must be automatic or manual, got %q", c.Reconciliation.CaptureMethod))
	}
	require(c.Reconciliation.RedriveInterval > 0, "REDRIVE_INTERVAL must be positive")
	require(c.Reconciliation.RedriveMaxAttempts > 0, "REDRIVE_MAX_ATTEMPTS must be positive")
	require(c.Reconciliation.EventTimeout < c.Reconciliation.WebhookTimeout, "EVENT_TIMEOUT must be shorter than WEBHOOK_TIMEOUT")

	switch c.Secrets.Provider {
	case "local", "aws":
	case "vault":
		require(c.Secrets.VaultAddress != "", "VAULT_ADDR is required for the vault secret manager")
	default:
		errs = append(errs, fmt.Errorf("SECRET_MANAGER must be aws, vault or local, got %q", c.Secrets.Provider))
	}

	return errs
}

// ConnectionString returns the PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// source resolves one setting from the environment, then the file, then a
// default, collecting parse errors along the way.
type source struct {
	k    *koanf.Koanf
	errs []error
}

func (s *source) raw(envKey, koanfKey string) (string, bool) {
	if value := os.Getenv(envKey); value != "" {
		return value, true
	}
	if s.k.Exists(koanfKey) {
		return s.k.String(koanfKey), true
	}
	return "", false
}

func (s *source) str(envKey, koanfKey, defaultValue string) string {
	if value, ok := s.raw(envKey, koanfKey); ok && value != "" {
		return value
	}
	return defaultValue
}

func (s *source) integer(envKey, koanfKey string, defaultValue int) int {
	value, ok := s.raw(envKey, koanfKey)
	if !ok || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s must be an integer: %q", envKey, value))
		return defaultValue
	}
	return n
}

func (s *source) float(envKey, koanfKey string, defaultValue float64) float64 {
	value, ok := s.raw(envKey, koanfKey)
	if !ok || value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		s.errs = append(s.errs, fmt.Errorf("%s must be a number: %q", envKey, value))
		return defaultValue
	}
	return f
}

func (s *source) boolean(envKey, koanfKey string, defaultValue bool) bool {
	value, ok := s.raw(envKey, koanfKey)
	if !ok || value == "" {
		return defaultValue
	}
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	}
	s.errs = append(s.errs, fmt.Errorf("%s must be a boolean: %q", envKey, value))
	return defaultValue
}

// duration accepts Go duration strings ("30s") or whole seconds
func (s *source) duration(envKey, koanfKey string, defaultValue time.Duration) time.Duration {
	value, ok := s.raw(envKey, koanfKey)
	if !ok || value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	s.errs = append(s.errs, fmt.Errorf("%s must be a duration: %q", envKey, value))
	return defaultValue
}

// list reads a comma-separated env value or a YAML sequence
func (s *source) list(envKey, koanfKey string) []string {
	if value := os.Getenv(envKey); value != "" {
		var out []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	return s.k.Strings(koanfKey)
}
