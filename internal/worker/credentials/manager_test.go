package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/claudecluster/core/internal/common/logger"
)

func testCredentialsLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json"})
	if err != nil {
		t.Fatalf("failed to build logger: %v", err)
	}
	return log
}

// stubProvider serves a fixed set of credentials and counts lookups, used
// to assert the manager's cache prevents repeat provider calls.
type stubProvider struct {
	name   string
	values map[string]string
	calls  int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) GetCredential(ctx context.Context, key string) (*Credential, error) {
	p.calls++
	if v, ok := p.values[key]; ok {
		return &Credential{Key: key, Value: v, Source: p.name}, nil
	}
	return nil, errors.New("not found")
}

func (p *stubProvider) ListAvailable(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	return keys, nil
}

func TestManager_GetCredentialWalksProvidersInOrder(t *testing.T) {
	m := NewManager(testCredentialsLogger(t))
	first := &stubProvider{name: "first", values: map[string]string{}}
	second := &stubProvider{name: "second", values: map[string]string{"API_KEY": "secret"}}
	m.AddProvider(first)
	m.AddProvider(second)

	cred, err := m.GetCredential(context.Background(), "API_KEY")
	if err != nil {
		t.Fatalf("GetCredential returned error: %v", err)
	}
	if cred.Value != "secret" || cred.Source != "second" {
		t.Fatalf("got %+v, want value=secret from provider second", cred)
	}
	if first.calls != 1 {
		t.Fatalf("got %d calls to first provider, want 1", first.calls)
	}
}

func TestManager_GetCredentialCachesResult(t *testing.T) {
	m := NewManager(testCredentialsLogger(t))
	provider := &stubProvider{name: "only", values: map[string]string{"API_KEY": "secret"}}
	m.AddProvider(provider)

	if _, err := m.GetCredential(context.Background(), "API_KEY"); err != nil {
		t.Fatalf("first GetCredential returned error: %v", err)
	}
	if _, err := m.GetCredential(context.Background(), "API_KEY"); err != nil {
		t.Fatalf("second GetCredential returned error: %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("got %d provider calls, want 1 (second lookup should hit the cache)", provider.calls)
	}
}

func TestManager_GetCredentialNotFound(t *testing.T) {
	m := NewManager(testCredentialsLogger(t))
	m.AddProvider(&stubProvider{name: "empty", values: map[string]string{}})

	if _, err := m.GetCredential(context.Background(), "MISSING"); err == nil {
		t.Fatal("expected an error for an unresolvable credential")
	}
}

func TestManager_HasCredential(t *testing.T) {
	m := NewManager(testCredentialsLogger(t))
	m.AddProvider(&stubProvider{name: "only", values: map[string]string{"API_KEY": "secret"}})

	if !m.HasCredential(context.Background(), "API_KEY") {
		t.Fatal("expected API_KEY to resolve")
	}
	if m.HasCredential(context.Background(), "MISSING") {
		t.Fatal("expected MISSING to not resolve")
	}
}

func TestManager_BuildEnvVars(t *testing.T) {
	m := NewManager(testCredentialsLogger(t))
	m.AddProvider(&stubProvider{name: "only", values: map[string]string{"ANTHROPIC_API_KEY": "sk-test"}})

	env, err := m.BuildEnvVars(context.Background(), []string{"ANTHROPIC_API_KEY"}, map[string]string{"SESSION_ID": "s-1"})
	if err != nil {
		t.Fatalf("BuildEnvVars returned error: %v", err)
	}

	want := map[string]bool{"ANTHROPIC_API_KEY=sk-test": true, "SESSION_ID=s-1": true}
	if len(env) != len(want) {
		t.Fatalf("got %d entries, want %d", len(env), len(want))
	}
	for _, entry := range env {
		if !want[entry] {
			t.Fatalf("unexpected env entry %q", entry)
		}
	}
}

func TestManager_BuildEnvVarsFailsClosedOnMissingRequired(t *testing.T) {
	m := NewManager(testCredentialsLogger(t))
	m.AddProvider(&stubProvider{name: "empty", values: map[string]string{}})

	if _, err := m.BuildEnvVars(context.Background(), []string{"ANTHROPIC_API_KEY"}, nil); err == nil {
		t.Fatal("expected BuildEnvVars to fail when a required credential is missing")
	}
}

func TestManager_ListAvailableUnionsProviders(t *testing.T) {
	m := NewManager(testCredentialsLogger(t))
	m.AddProvider(&stubProvider{name: "a", values: map[string]string{"KEY_A": "1"}})
	m.AddProvider(&stubProvider{name: "b", values: map[string]string{"KEY_A": "2", "KEY_B": "3"}})

	available := m.ListAvailable(context.Background())
	if len(available) != 2 {
		t.Fatalf("got %d keys, want 2 (deduplicated union)", len(available))
	}
}

func TestEnvProvider_GetCredentialExactMatch(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-123")

	p := NewEnvProvider("")
	cred, err := p.GetCredential(context.Background(), "ANTHROPIC_API_KEY")
	if err != nil {
		t.Fatalf("GetCredential returned error: %v", err)
	}
	if cred.Value != "sk-test-123" {
		t.Fatalf("got value %q, want sk-test-123", cred.Value)
	}
}

func TestEnvProvider_GetCredentialPrefixedMatch(t *testing.T) {
	t.Setenv("WORKER_ANTHROPIC_API_KEY", "sk-prefixed")

	p := NewEnvProvider("WORKER_")
	cred, err := p.GetCredential(context.Background(), "ANTHROPIC_API_KEY")
	if err != nil {
		t.Fatalf("GetCredential returned error: %v", err)
	}
	if cred.Value != "sk-prefixed" {
		t.Fatalf("got value %q, want sk-prefixed", cred.Value)
	}
}

func TestEnvProvider_GetCredentialNotFound(t *testing.T) {
	p := NewEnvProvider("")
	if _, err := p.GetCredential(context.Background(), "DEFINITELY_NOT_SET_XYZ"); err == nil {
		t.Fatal("expected an error for an unset variable")
	}
}

func TestEnvProvider_Name(t *testing.T) {
	if (&EnvProvider{}).Name() != "environment" {
		t.Fatal("expected provider name to be \"environment\"")
	}
}
