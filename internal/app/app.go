// Package app builds the reconciliation pipeline from configuration. The
// webhook server and the operator CLI share it so both see the same stores
// and the same service settings.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/adapters/commercetools"
	"github.com/kevin07696/payment-reconciler/internal/adapters/memory"
	"github.com/kevin07696/payment-reconciler/internal/adapters/postgres"
	"github.com/kevin07696/payment-reconciler/internal/adapters/redis"
	"github.com/kevin07696/payment-reconciler/internal/adapters/secrets"
	"github.com/kevin07696/payment-reconciler/internal/adapters/stripe"
	"github.com/kevin07696/payment-reconciler/internal/config"
	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
	"github.com/kevin07696/payment-reconciler/internal/services/dispatch"
	"github.com/kevin07696/payment-reconciler/internal/services/ledger"
	"github.com/kevin07696/payment-reconciler/internal/services/order"
	"github.com/kevin07696/payment-reconciler/internal/services/reconciliation"
	"github.com/kevin07696/payment-reconciler/pkg/http"
	"github.com/kevin07696/payment-reconciler/pkg/logging"
	"github.com/kevin07696/payment-reconciler/pkg/observability"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
)

// Dependencies holds the wired services
type Dependencies struct {
	Ledger       *ledger.Service
	Inbox        ports.EventInbox
	Orchestrator *reconciliation.Orchestrator
	Redriver     *reconciliation.Redriver
	Initializer  *reconciliation.Initializer
	Verifier     *stripe.WebhookVerifier
	Timeouts     *resilience.TimeoutConfig

	// HealthChecks feeds the /health endpoint
	HealthChecks map[string]observability.Pinger

	store *store
}

// Credentials are the secrets the pipeline needs at startup
type Credentials struct {
	StripeAPIKey        string
	StripeWebhookSecret string
	CommercetoolsSecret string
}

// Build resolves credentials, opens the configured store and wires every service.
// Callers must Close the returned dependencies.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	creds, err := ResolveCredentials(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	timeouts := TimeoutsFromConfig(cfg.Reconciliation)
	portsLogger := logging.NewZapLogger(logger)

	gatewayCfg := stripe.DefaultConfig()
	gatewayCfg.SecretKey = creds.StripeAPIKey
	gatewayCfg.APIURL = cfg.Stripe.APIURL
	gatewayCfg.RequestsPerSecond = cfg.Stripe.RequestsPerSecond
	gatewayCfg.Burst = cfg.Stripe.Burst
	gateway := stripe.NewGateway(gatewayCfg,
		http.NewHTTPClient(http.GatewayClientConfig(), timeouts.GatewayCall),
		logger.Named("stripe"),
	)

	orders := commercetools.NewOrderClient(commercetools.Config{
		APIURL:       cfg.Commercetools.APIURL,
		AuthURL:      cfg.Commercetools.AuthURL,
		ProjectKey:   cfg.Commercetools.ProjectKey,
		ClientID:     cfg.Commercetools.ClientID,
		ClientSecret: creds.CommercetoolsSecret,
		Scopes:       cfg.Commercetools.Scopes,
	}, http.NewHTTPClient(http.CommerceClientConfig(), timeouts.OrderCall), logger.Named("commercetools"))

	ledgerSvc := ledger.NewService(st.ledger, portsLogger, ledger.DefaultConfig())

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.MaxConflictRetries = cfg.Reconciliation.MaxConflictRetries
	dispatchCfg.Timeouts = timeouts
	dispatcher := dispatch.NewDispatcher(ledgerSvc, gateway, portsLogger, dispatchCfg)

	orderCfg := order.DefaultConfig()
	orderCfg.Timeouts = timeouts
	trigger := order.NewTrigger(ledgerSvc, orders, gateway, portsLogger, orderCfg)

	orchestrator := reconciliation.NewOrchestrator(dispatcher, trigger, st.inbox, portsLogger, timeouts)

	redriver := reconciliation.NewRedriver(st.inbox, orchestrator, portsLogger, reconciliation.RedriveConfig{
		Interval:    cfg.Reconciliation.RedriveInterval,
		MaxAttempts: cfg.Reconciliation.RedriveMaxAttempts,
		BatchSize:   cfg.Reconciliation.RedriveBatchSize,
		Timeouts:    timeouts,
	})

	return &Dependencies{
		Ledger:       ledgerSvc,
		Inbox:        st.inbox,
		Orchestrator: orchestrator,
		Redriver:     redriver,
		Initializer:  reconciliation.NewInitializer(gateway, ledgerSvc, portsLogger, cfg.Reconciliation.CaptureMethod),
		Verifier:     stripe.NewWebhookVerifier(creds.StripeWebhookSecret, cfg.Stripe.WebhookTolerance),
		Timeouts:     timeouts,
		HealthChecks: map[string]observability.Pinger{cfg.Store.Backend: st.ping},
		store:        st,
	}, nil
}

// Close releases the store connections
func (d *Dependencies) Close() error {
	if d.store == nil || d.store.close == nil {
		return nil
	}
	return d.store.close()
}

// TimeoutsFromConfig maps configured budgets onto the timeout hierarchy
func TimeoutsFromConfig(cfg config.ReconciliationConfig) *resilience.TimeoutConfig {
	timeouts := resilience.DefaultTimeoutConfig()
	set := func(dst *time.Duration, v time.Duration) {
		if v > 0 {
			*dst = v
		}
	}
	set(&timeouts.WebhookHandler, cfg.WebhookTimeout)
	set(&timeouts.Event, cfg.EventTimeout)
	set(&timeouts.GatewayCall, cfg.GatewayTimeout)
	set(&timeouts.OrderCall, cfg.OrderTimeout)
	set(&timeouts.LedgerQuery, cfg.LedgerTimeout)
	return timeouts
}

// ResolveCredentials reads inline credentials or fetches them from the
// configured secret manager when a secret path is set
func ResolveCredentials(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Credentials, error) {
	sm, err := secrets.New(ctx, SecretsConfig(cfg.Secrets), logger.Named("secrets"))
	if err != nil {
		return Credentials{}, fmt.Errorf("init secret manager: %w", err)
	}

	var creds Credentials
	var errs []error
	resolve := func(dst *string, name, path, inline string) {
		v, err := secrets.Resolve(ctx, sm, path, inline)
		if err != nil {
			errs = append(errs, fmt.Errorf("resolve %s: %w", name, err))
			return
		}
		*dst = v
	}
	resolve(&creds.StripeAPIKey, "stripe api key", cfg.Stripe.APIKeySecret, cfg.Stripe.APIKey)
	resolve(&creds.StripeWebhookSecret, "stripe webhook secret", cfg.Stripe.WebhookSecretSecret, cfg.Stripe.WebhookSecret)
	resolve(&creds.CommercetoolsSecret, "commercetools client secret", cfg.Commercetools.ClientSecretSecret, cfg.Commercetools.ClientSecret)

	if err := errors.Join(errs...); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// SecretsConfig translates the secrets section into the adapter factory config
func SecretsConfig(cfg config.SecretsConfig) secrets.Config {
	out := secrets.Config{
		Provider:  cfg.Provider,
		LocalPath: cfg.LocalPath,
	}

	switch cfg.Provider {
	case secrets.ProviderAWS:
		aws := secrets.DefaultAWSSecretsManagerConfig(cfg.AWSRegion)
		aws.Profile = cfg.AWSProfile
		aws.Endpoint = cfg.AWSEndpoint
		if cfg.CacheTTL > 0 {
			aws.CacheTTL = cfg.CacheTTL
		}
		out.AWS = aws
	case secrets.ProviderVault:
		vault := secrets.DefaultVaultConfig(cfg.VaultAddress)
		vault.AuthMethod = cfg.VaultAuthMethod
		vault.Token = cfg.VaultToken
		vault.RoleID = cfg.VaultRoleID
		vault.SecretID = cfg.VaultSecretID
		vault.K8sRole = cfg.VaultK8sRole
		if cfg.VaultMountPath != "" {
			vault.MountPath = cfg.VaultMountPath
		}
		if cfg.CacheTTL > 0 {
			vault.CacheTTL = cfg.CacheTTL
		}
		out.Vault = vault
	}
	return out
}

type store struct {
	ledger ports.LedgerStore
	inbox  ports.EventInbox
	ping   observability.Pinger
	close  func() error
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store, error) {
	switch cfg.Store.Backend {
	case "memory":
		logger.Warn("Using in-memory store - state is lost on restart")
		return &store{
			ledger: memory.NewLedgerStore(),
			inbox:  memory.NewEventInbox(),
			ping:   observability.PingFunc(func(context.Context) error { return nil }),
		}, nil

	case "postgres":
		poolCfg := postgres.DefaultPoolConfig(cfg.Database.ConnectionString())
		if cfg.Database.MaxConns > 0 {
			poolCfg.MaxConns = cfg.Database.MaxConns
		}
		if cfg.Database.MinConns > 0 {
			poolCfg.MinConns = cfg.Database.MinConns
		}
		pool, err := postgres.NewPool(ctx, poolCfg, logger.Named("postgres"))
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		db := postgres.NewDBExecutor(pool)
		return &store{
			ledger: postgres.NewLedgerStore(db),
			inbox:  postgres.NewEventInbox(db),
			ping:   db,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil

	case "redis":
		client, err := redis.NewClient(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		return &store{
			ledger: redis.NewLedgerStore(client, cfg.Redis.KeyPrefix),
			inbox:  redis.NewEventInbox(client, cfg.Redis.KeyPrefix),
			ping:   redisPinger(client),
			close:  client.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func redisPinger(client *goredis.Client) observability.Pinger {
	return observability.PingFunc(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}
