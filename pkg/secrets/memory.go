package secrets

import "sync"

// MemoryProvider keeps secrets in memory, made for tests and one-off runs
type MemoryProvider struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewMemoryProvider creates a new MemoryProvider with a copy of the given secrets
func NewMemoryProvider(secrets map[string]string) *MemoryProvider {
	res := &MemoryProvider{secrets: make(map[string]string, len(secrets))}
	for k, v := range secrets {
		res.secrets[k] = v
	}
	return res
}

// Get returns the secret for the given key
func (m *MemoryProvider) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if val, ok := m.secrets[key]; ok {
		return val, nil
	}
	return "", notFound(key)
}

// Set stores the secret
func (m *MemoryProvider) Set(key, value string) {
	m.mu.Lock()
	m.secrets[key] = value
	m.mu.Unlock()
}
