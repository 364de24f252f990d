package secrets

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
)

// Provider names accepted by New
const (
	ProviderAWS   = "aws"
	ProviderVault = "vault"
	ProviderLocal = "local"
)

// Config selects and configures a secret backend
type Config struct {
	Provider  string
	AWS       *AWSSecretsManagerConfig
	Vault     *VaultConfig
	LocalPath string
}

// New builds the secret manager named by cfg.Provider
func New(ctx context.Context, cfg Config, logger *zap.Logger) (ports.SecretManager, error) {
	switch cfg.Provider {
	case ProviderAWS:
		if cfg.AWS == nil {
			return nil, fmt.Errorf("aws secret manager selected without aws config")
		}
		sm, err := NewAWSSecretsManager(ctx, cfg.AWS, logger)
		if err != nil {
			return nil, err
		}
		return sm, nil
	case ProviderVault:
		if cfg.Vault == nil {
			return nil, fmt.Errorf("vault secret manager selected without vault config")
		}
		sm, err := NewVaultAdapter(ctx, cfg.Vault, logger)
		if err != nil {
			return nil, err
		}
		return sm, nil
	case ProviderLocal, "":
		logger.Warn("Using LOCAL secret manager - NOT for production use!",
			zap.String("base_path", cfg.LocalPath),
		)
		return NewLocalSecretManager(cfg.LocalPath, logger), nil
	default:
		return nil, fmt.Errorf("unknown secret manager provider: %s", cfg.Provider)
	}
}

// Resolve fetches the secret at path and returns its value. An empty path
// returns fallback unchanged, so plain config values work without a backend.
func Resolve(ctx context.Context, sm ports.SecretManager, path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	secret, err := sm.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}
	value := strings.TrimSpace(secret.Value)
	if value == "" {
		return "", fmt.Errorf("secret %s is empty", path)
	}
	return value, nil
}
