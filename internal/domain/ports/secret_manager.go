package ports

import "context"

// Secret represents a retrieved secret with metadata
type Secret struct {
	Value     string            // The secret value (e.g., Stripe API key)
	Version   string            // Secret version identifier
	Metadata  map[string]string // Additional secret metadata
	CreatedAt string            // When this version was created
}

// SecretManager retrieves credentials from a secret management service.
// Supported backends: AWS Secrets Manager, HashiCorp Vault, local files.
//
// A path may carry a "#field" suffix to select one key of a JSON secret,
// e.g. "reconciler/stripe#api_key".
type SecretManager interface {
	// GetSecret retrieves a secret by its path/name
	// Path format depends on implementation:
	//   - AWS: "payment-reconciler/stripe" or a full ARN
	//   - Vault: "payment-reconciler/stripe" under the configured KV mount
	//   - Local: a file path relative to the base directory
	GetSecret(ctx context.Context, path string) (*Secret, error)
}
