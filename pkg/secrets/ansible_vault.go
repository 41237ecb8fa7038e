package secrets

import (
	"fmt"
	"os"

	vault "github.com/sosedoff/ansible-vault-go"
	yaml "gopkg.in/yaml.v3"
)

// AnsibleVaultProvider reads secrets from an ansible-vault encrypted yaml file
type AnsibleVaultProvider struct {
	data map[string]any
}

// NewAnsibleVaultProvider decrypts the vault file with the password and keeps its top level keys
func NewAnsibleVaultProvider(vaultPath, password string) (*AnsibleVaultProvider, error) {
	fi, err := os.Lstat(vaultPath)
	if err != nil {
		return nil, fmt.Errorf("can't get fileinfo of %s: %w", vaultPath, err)
	}
	if !fi.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", vaultPath)
	}

	decrypted, err := vault.DecryptFile(vaultPath, password)
	if err != nil {
		return nil, fmt.Errorf("can't decrypt %s: %w", vaultPath, err)
	}

	m := map[string]any{}
	if err := yaml.Unmarshal([]byte(decrypted), &m); err != nil {
		return nil, fmt.Errorf("can't unmarshal %s: %w", vaultPath, err)
	}
	return &AnsibleVaultProvider{data: m}, nil
}

// Get returns value of the key, non-string values are formatted
func (p *AnsibleVaultProvider) Get(key string) (string, error) {
	v, ok := p.data[key]
	if !ok {
		return "", notFound(key)
	}
	if s, ok := v.(string); ok {
		return s, nil
	}
	return fmt.Sprintf("%v", v), nil
}
