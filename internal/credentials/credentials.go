// Package credentials resolves API keys from the credential store with an
// environment fallback.
package credentials

import (
	"context"
	"os"
	"strings"
)

// Source looks up a credential; "" with a nil error means not configured
type Source interface {
	GetCredential(ctx context.Context, keyName, provider string) (string, error)
}

// EnvSource reads credentials from environment variables named after the key
type EnvSource struct {
	// Lookup defaults to os.LookupEnv
	Lookup func(string) (string, bool)
}

// GetCredential returns the trimmed value of the variable keyName
func (e EnvSource) GetCredential(_ context.Context, keyName, _ string) (string, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(keyName)
	return strings.TrimSpace(v), nil
}

// Chain asks each source in order and returns the first non-empty value
type Chain []Source

// GetCredential implements Source. A source error stops the lookup.
func (c Chain) GetCredential(ctx context.Context, keyName, provider string) (string, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		v, err := src.GetCredential(ctx, keyName, provider)
		if err != nil {
			return "", err
		}
		if v != "" {
			return v, nil
		}
	}
	return "", nil
}
