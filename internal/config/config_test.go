package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 2341, cfg.Ports.Control)
	assert.Equal(t, 2342, cfg.Ports.Render)
	assert.Equal(t, 2348, cfg.Ports.Bootstrap)
	assert.Equal(t, 3, cfg.Agent.MaxToolIterations)
	assert.True(t, cfg.Agent.SpawnRender)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Ports, cfg.Ports)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appbridge.yaml")
	data := `
ports:
  bootstrap: 9348
agent:
  max_tool_iterations: 5
llm:
  provider: ollama
  model: llama3.1:latest
  timeout: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9348, cfg.Ports.Bootstrap)
	// Untouched fields keep their defaults
	assert.Equal(t, 2341, cfg.Ports.Control)
	assert.Equal(t, 5, cfg.Agent.MaxToolIterations)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, 30*time.Second, cfg.GetLLMTimeout())
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "appbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ports: [not a map]"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("APPBRIDGE_LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("APPBRIDGE_LLM_MODEL", "gpt-4o-mini")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestDurationFallbacks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Timeout = "not-a-duration"
	cfg.Bootstrap.PollInterval = ""
	cfg.Bootstrap.DialRetry = "zzz"

	assert.Equal(t, 120*time.Second, cfg.GetLLMTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.GetDialRetry())
}
