package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves each key as an environment variable name. It backs
// local runs where secrets come from the shell or .env.
type EnvVarProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

// GetParametersBatch omits keys that are not set.
func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := p.lookup(k); ok {
			out[k] = v
		}
	}
	return out, nil
}
