package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kevin07696/payment-reconciler/internal/domain/ports"
)

// LocalSecretManager implements ports.SecretManager using local files.
// WARNING: This is for development only. Use AWS Secrets Manager or Vault in production.
type LocalSecretManager struct {
	basePath string
	logger   *zap.Logger
}

var _ ports.SecretManager = (*LocalSecretManager)(nil)

// NewLocalSecretManager creates a new local filesystem secret manager
func NewLocalSecretManager(basePath string, logger *zap.Logger) *LocalSecretManager {
	return &LocalSecretManager{
		basePath: basePath,
		logger:   logger,
	}
}

// GetSecret reads basePath/path. Files holding {"value": ...} are unwrapped;
// any other content is returned as trimmed plain text.
func (m *LocalSecretManager) GetSecret(ctx context.Context, secretPath string) (*ports.Secret, error) {
	name, field := splitField(secretPath)

	filePath := filepath.Join(m.basePath, filepath.Clean("/"+name))
	m.logger.Debug("Reading secret from filesystem",
		zap.String("path", name),
	)

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("secret not found: %s", name)
		}
		return nil, fmt.Errorf("failed to read secret: %w", err)
	}

	secret := &ports.Secret{
		Value:   strings.TrimSpace(string(data)),
		Version: "v1",
	}

	if field == "" {
		var wrapped struct {
			Value     string            `json:"value"`
			Tags      map[string]string `json:"tags"`
			CreatedAt string            `json:"created_at"`
		}
		if err := json.Unmarshal(data, &wrapped); err == nil && wrapped.Value != "" {
			secret.Value = wrapped.Value
			secret.Metadata = wrapped.Tags
			secret.CreatedAt = wrapped.CreatedAt
		}
	}

	return selectField(secret, field)
}
