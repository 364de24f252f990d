package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/adapters/secrets"
	"github.com/kevin07696/payment-reconciler/internal/config"
	"github.com/kevin07696/payment-reconciler/internal/domain"
	"github.com/kevin07696/payment-reconciler/pkg/resilience"
)

func memoryConfig(secretsDir string) *config.Config {
	return &config.Config{
		Store: config.StoreConfig{Backend: "memory"},
		Stripe: config.StripeConfig{
			APIKey:              "sk_test_inline",
			WebhookSecretSecret: "stripe/webhook",
			APIURL:              "http://127.0.0.1:1",
			WebhookTolerance:    5 * time.Minute,
			RequestsPerSecond:   10,
			Burst:               1,
		},
		Commercetools: config.CommercetoolsConfig{
			APIURL:     "http://127.0.0.1:1",
			AuthURL:    "http://127.0.0.1:1",
			ProjectKey: "shop",
			ClientID:   "client",
		},
		Reconciliation: config.ReconciliationConfig{
			CaptureMethod:      "automatic",
			MaxConflictRetries: 3,
			RedriveInterval:    time.Second,
			RedriveBatchSize:   10,
			RedriveMaxAttempts: 3,
			EventTimeout:       3 * time.Second,
		},
		Secrets: config.SecretsConfig{
			Provider:  secrets.ProviderLocal,
			LocalPath: secretsDir,
		},
	}
}

func TestBuild_MemoryBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stripe"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stripe", "webhook"), []byte("whsec_file\n"), 0o600))

	deps, err := Build(context.Background(), memoryConfig(dir), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Close() })

	assert.NotNil(t, deps.Orchestrator)
	assert.NotNil(t, deps.Redriver)
	assert.NotNil(t, deps.Initializer)
	assert.NotNil(t, deps.Verifier)
	assert.Equal(t, 3*time.Second, deps.Timeouts.Event)
	require.Contains(t, deps.HealthChecks, "memory")
	assert.NoError(t, deps.HealthChecks["memory"].Ping(context.Background()))

	// An unknown payment is rejected without touching the gateway
	result := deps.Orchestrator.Handle(context.Background(), domain.PaymentEvent{
		EventID:   "evt_1",
		Type:      domain.EventCanceled,
		SubjectID: "pi_unknown",
		Currency:  "USD",
	})
	assert.Equal(t, domain.StageFailed, result.Stage)

	inboxEvent, err := deps.Inbox.Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.Equal(t, domain.InboxStatusFailed, inboxEvent.Status)
}

func TestResolveCredentials_MissingSecret(t *testing.T) {
	cfg := memoryConfig(t.TempDir())

	_, err := ResolveCredentials(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stripe webhook secret")
}

func TestTimeoutsFromConfig(t *testing.T) {
	defaults := resilience.DefaultTimeoutConfig()

	timeouts := TimeoutsFromConfig(config.ReconciliationConfig{
		GatewayTimeout: 3 * time.Second,
		LedgerTimeout:  time.Second,
	})

	assert.Equal(t, 3*time.Second, timeouts.GatewayCall)
	assert.Equal(t, time.Second, timeouts.LedgerQuery)
	assert.Equal(t, defaults.Event, timeouts.Event)
	assert.Equal(t, defaults.WebhookHandler, timeouts.WebhookHandler)
	assert.Equal(t, defaults.RedrivePass, timeouts.RedrivePass)
}

func TestSecretsConfig(t *testing.T) {
	vault := SecretsConfig(config.SecretsConfig{
		Provider:        secrets.ProviderVault,
		VaultAddress:    "https://vault:8200",
		VaultAuthMethod: "approle",
		VaultRoleID:     "role",
		VaultSecretID:   "secret",
		CacheTTL:        time.Minute,
	})
	require.NotNil(t, vault.Vault)
	assert.Nil(t, vault.AWS)
	assert.Equal(t, "approle", vault.Vault.AuthMethod)
	assert.Equal(t, "secret", vault.Vault.MountPath)
	assert.Equal(t, time.Minute, vault.Vault.CacheTTL)

	aws := SecretsConfig(config.SecretsConfig{
		Provider:    secrets.ProviderAWS,
		AWSRegion:   "eu-west-1",
		AWSEndpoint: "http://localstack:4566",
	})
	require.NotNil(t, aws.AWS)
	assert.Equal(t, "eu-west-1", aws.AWS.Region)
	assert.Equal(t, "http://localstack:4566", aws.AWS.Endpoint)

	local := SecretsConfig(config.SecretsConfig{Provider: secrets.ProviderLocal, LocalPath: "/run/secrets"})
	assert.Nil(t, local.AWS)
	assert.Nil(t, local.Vault)
	assert.Equal(t, "/run/secrets", local.LocalPath)
}
