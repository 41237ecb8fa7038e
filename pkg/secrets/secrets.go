// Package secrets provides sources of passwords and other secret values used to reach databases.
// Providers are read-only, except InternalProvider which keeps encrypted secrets in a tablecrow table.
package secrets

import (
	"errors"
	"fmt"

	"github.com/umputun/tablecrow/pkg/schema"
)

// Provider returns secret value by key
type Provider interface {
	Get(key string) (string, error)
}

// NoOpProvider is a provider without secrets
type NoOpProvider struct{}

// Get returns an error on every key
func (p *NoOpProvider) Get(key string) (string, error) {
	return "", fmt.Errorf("no secrets provider for %s: %w", key, errors.ErrUnsupported)
}

func notFound(key string) error {
	return fmt.Errorf("secret %s: %w", key, schema.ErrNotFound)
}
