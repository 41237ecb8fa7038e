package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
)

// HashiVaultProvider reads secrets from a KV v2 path of HashiCorp Vault
type HashiVaultProvider struct {
	client  *api.Client
	path    string
	timeout time.Duration
}

// NewHashiVaultProvider creates a new HashiCorp Vault provider. Path is the full KV v2 data path,
// like "secret/data/tablecrow", "secret/tablecrow" is expanded to it.
func NewHashiVaultProvider(addr, path, token string) (*HashiVaultProvider, error) {
	client, err := api.NewClient(&api.Config{Address: addr})
	if err != nil {
		return nil, fmt.Errorf("can't make vault client: %w", err)
	}
	client.SetToken(token)
	return &HashiVaultProvider{client: client, path: kvDataPath(path), timeout: 30 * time.Second}, nil
}

// Get reads the path and returns value of the key
func (p *HashiVaultProvider) Get(key string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	secret, err := p.client.Logical().ReadWithContext(ctx, p.path)
	if err != nil {
		return "", fmt.Errorf("can't read vault path %s: %w", p.path, err)
	}
	if secret == nil || secret.Data == nil {
		return "", notFound(key)
	}

	data, ok := secret.Data["data"].(map[string]any)
	if !ok {
		return "", errors.New("unexpected secret data format")
	}
	raw, ok := data[key]
	if !ok {
		return "", notFound(key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("unexpected format of secret %s: %T", key, raw)
	}
	return value, nil
}

// kvDataPath inserts "data" after the mount name unless already there
func kvDataPath(path string) string {
	path = strings.Trim(path, "/")
	mount, rest, ok := strings.Cut(path, "/")
	if !ok || strings.HasPrefix(rest, "data/") {
		return path
	}
	return mount + "/data/" + rest
}
