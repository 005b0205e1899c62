package config

import "context"

// SecretProvider resolves secret values by key: SSM parameter paths in
// deployed environments, plain variable names locally.
type SecretProvider interface {
	// GetParametersBatch returns key -> plaintext for every key it could
	// resolve. Implementations batch internally to stay under API limits.
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
