// Package credentials injects API keys and secrets into session container
// environments without ever logging their values.
package credentials

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/claudecluster/core/internal/common/logger"
)

// Credential is one retrieved secret, keyed by the environment variable
// name it is injected as.
type Credential struct {
	Key         string
	Value       string
	Source      string
	Description string
}

// Provider is one source of credentials (environment, vault, file, ...).
type Provider interface {
	GetCredential(ctx context.Context, key string) (*Credential, error)
	ListAvailable(ctx context.Context) ([]string, error)
	Name() string
}

// Manager resolves credentials across an ordered list of providers and
// caches successful lookups for the lifetime of the worker process.
type Manager struct {
	providers []Provider
	cache     map[string]*Credential
	mu        sync.RWMutex
	logger    *logger.Logger
}

// NewManager creates an empty credentials manager.
func NewManager(log *logger.Logger) *Manager {
	return &Manager{
		providers: make([]Provider, 0),
		cache:     make(map[string]*Credential),
		logger:    log.WithFields(zap.String("component", "credentials_manager")),
	}
}

// AddProvider appends a credential source, consulted in registration order.
func (m *Manager) AddProvider(provider Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers = append(m.providers, provider)
	m.logger.Info("added credential provider", zap.String("provider", provider.Name()))
}

// GetCredential resolves one credential, checking the cache before walking
// providers in order.
func (m *Manager) GetCredential(ctx context.Context, key string) (*Credential, error) {
	m.mu.RLock()
	if cred, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		return cred, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, provider := range m.providers {
		cred, err := provider.GetCredential(ctx, key)
		if err == nil {
			m.cache[key] = cred
			return cred, nil
		}
	}

	return nil, fmt.Errorf("credential not found: %s", key)
}

// BuildEnvVars resolves every key in required into a KEY=VALUE environment
// entry, merges in additional verbatim, and fails closed if any required
// credential is missing — used when building a session container's env
// from an ImageConfig's RequiredEnv (spec §4.1/§6).
func (m *Manager) BuildEnvVars(ctx context.Context, required []string, additional map[string]string) ([]string, error) {
	envVars := make([]string, 0, len(required)+len(additional))

	for _, key := range required {
		cred, err := m.GetCredential(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("required credential missing: %s", key)
		}
		envVars = append(envVars, fmt.Sprintf("%s=%s", cred.Key, cred.Value))
	}

	for key, value := range additional {
		envVars = append(envVars, fmt.Sprintf("%s=%s", key, value))
	}

	return envVars, nil
}

// HasCredential reports whether key resolves against any provider.
func (m *Manager) HasCredential(ctx context.Context, key string) bool {
	_, err := m.GetCredential(ctx, key)
	return err == nil
}

// ListAvailable returns the union of every provider's available keys.
func (m *Manager) ListAvailable(ctx context.Context) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keySet := make(map[string]struct{})
	for _, provider := range m.providers {
		keys, err := provider.ListAvailable(ctx)
		if err != nil {
			m.logger.Warn("failed to list credentials from provider",
				zap.String("provider", provider.Name()), zap.Error(err))
			continue
		}
		for _, key := range keys {
			keySet[key] = struct{}{}
		}
	}

	result := make([]string, 0, len(keySet))
	for key := range keySet {
		result = append(result, key)
	}
	return result
}
