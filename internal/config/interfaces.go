package config

import "context"

// SecretProvider resolves secret references (SSM paths locally mapped to env
// names) to plaintext. Keys absent from the result were not found.
type SecretProvider interface {
	GetParametersBatch(ctx context.Context, keys []string) (map[string]string, error)
}
