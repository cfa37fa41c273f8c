package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCapability(t *testing.T) {
	tests := []struct {
		input    string
		expected Capability
	}{
		{"generation", CapabilityGeneration},
		{"healing", CapabilityHealing},
		{"fast", CapabilityFast},
		{"planning", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseCapability(tt.input))
		})
	}
}

func TestNewDefaultRegistry(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t, []Capability{CapabilityFast, CapabilityGeneration, CapabilityHealing}, r.ListCapabilities())
	assert.Empty(t, r.Validate(), "every referenced endpoint is configured")

	ep := r.GetEndpoint(r.Resolve(CapabilityGeneration))
	require.NotNil(t, ep)
	assert.Equal(t, "gemini", ep.Provider)
	assert.Equal(t, "gemini-2.5-pro", ep.Model)
}

func TestRegistry_FallbackChain(t *testing.T) {
	r := NewDefaultRegistry()

	assert.Equal(t, []string{"gemini-pro", "claude-sonnet", "qwen"}, r.GetFallbackChain(CapabilityHealing))
	assert.Equal(t, []string{"gemini-pro"}, r.GetFallbackChain(Capability("unknown")))
}

func TestRegistry_Validate(t *testing.T) {
	r := NewRegistry(
		map[Capability]*CapabilityConfig{
			CapabilityGeneration: {Preferred: []string{"a", "missing"}, Fallback: []string{"missing"}},
		},
		map[string]*EndpointConfig{"a": {Provider: "ollama", Model: "a"}},
	)
	assert.Equal(t, []string{"missing"}, r.Validate())
}

func TestCircuitBreaker(t *testing.T) {
	r := NewDefaultRegistry()
	r.SetHealthConfig(HealthConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute})

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.state().now = func() time.Time { return now }

	assert.Nil(t, r.GetEndpointHealth("gemini-pro"))

	r.MarkEndpointFailure("gemini-pro")
	assert.True(t, r.IsEndpointAvailable("gemini-pro"))

	r.MarkEndpointFailure("gemini-pro")
	assert.False(t, r.IsEndpointAvailable("gemini-pro"))
	assert.Equal(t, []string{"claude-sonnet", "qwen"}, r.GetAvailableFallbackChain(CapabilityGeneration))

	now = now.Add(2 * time.Minute)
	assert.True(t, r.IsEndpointAvailable("gemini-pro"), "half-open after recovery timeout")

	r.MarkEndpointSuccess("gemini-pro")
	h := r.GetEndpointHealth("gemini-pro")
	require.NotNil(t, h)
	assert.False(t, h.CircuitOpen)
	assert.Zero(t, h.FailureCount)

	r.ResetEndpointHealth("gemini-pro")
	assert.Nil(t, r.GetEndpointHealth("gemini-pro"))
}

func TestAvailableFallbackChain_AllOpen(t *testing.T) {
	r := NewRegistry(
		map[Capability]*CapabilityConfig{CapabilityFast: {Preferred: []string{"a"}}},
		map[string]*EndpointConfig{"a": {Provider: "ollama"}},
	)
	r.SetHealthConfig(HealthConfig{FailureThreshold: 1, RecoveryTimeout: time.Hour})
	r.MarkEndpointFailure("a")

	assert.Equal(t, []string{"a"}, r.GetAvailableFallbackChain(CapabilityFast))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	data := `capabilities:
  healing:
    preferred: [local]
endpoints:
  local:
    provider: ollama
    url: http://localhost:11434/v1
    model: qwen2.5-coder:7b
defaults:
  model: local
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	r, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "local", r.Resolve(CapabilityHealing))
	assert.Equal(t, "local", r.Resolve(CapabilityGeneration), "unconfigured capability uses default")
	assert.Equal(t, "qwen2.5-coder:7b", r.GetEndpoint("local").Model)
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()
	r.MergeFromConfig(&RegistryConfig{
		Capabilities: map[string]*CapabilityConfig{
			"healing": {Preferred: []string{"qwen"}},
		},
		Endpoints: map[string]*EndpointConfig{
			"qwen": {Provider: "ollama", URL: "http://gpu-box:11434/v1", Model: "qwen2.5-coder:32b"},
		},
	})

	assert.Equal(t, "qwen", r.Resolve(CapabilityHealing))
	assert.Equal(t, "gemini-pro", r.Resolve(CapabilityGeneration))
	assert.Equal(t, "http://gpu-box:11434/v1", r.GetEndpoint("qwen").URL)

	cfg := r.ToConfig()
	assert.Equal(t, "gemini-pro", cfg.Defaults.Model)
	assert.Contains(t, cfg.Endpoints, "claude-sonnet")
}
