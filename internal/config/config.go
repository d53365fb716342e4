package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all appbridge configuration.
type Config struct {
	// Fixed loopback ports shared by both processes
	Ports PortsConfig `yaml:"ports"`

	// Peer discovery and link behavior
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// Control-process agent settings
	Agent AgentConfig `yaml:"agent"`

	// Render-process app host settings
	Webhost WebhostConfig `yaml:"webhost"`

	// Inference engine configuration
	LLM LLMConfig `yaml:"llm"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PortsConfig pins the well-known loopback ports. Both processes must
// agree on these, so they are fixed rather than ephemeral.
type PortsConfig struct {
	Control   int `yaml:"control"`
	Render    int `yaml:"render"`
	Bootstrap int `yaml:"bootstrap"`
}

// BootstrapConfig tunes discovery polling and peer link retries.
type BootstrapConfig struct {
	PollInterval string `yaml:"poll_interval"`
	DialRetry    string `yaml:"dial_retry"`
}

// AgentConfig configures the control-process agent.
type AgentConfig struct {
	MaxToolIterations int  `yaml:"max_tool_iterations"`
	SpawnRender       bool `yaml:"spawn_render"`
}

// WebhostConfig configures the mini-app HTTP host.
type WebhostConfig struct {
	Port int `yaml:"port"`
}

// LLMConfig configures the inference engine.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai, ollama
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Ports: PortsConfig{
			Control:   2341,
			Render:    2342,
			Bootstrap: 2348,
		},

		Bootstrap: BootstrapConfig{
			PollInterval: "500ms",
			DialRetry:    "500ms",
		},

		Agent: AgentConfig{
			MaxToolIterations: 3,
			SpawnRender:       true,
		},

		Webhost: WebhostConfig{
			Port: 2349,
		},

		LLM: LLMConfig{
			Provider: "anthropic",
			Timeout:  "120s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if provider := os.Getenv("APPBRIDGE_LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}

	// API key from environment, matched to the selected provider
	switch c.LLM.Provider {
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	case "openai":
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	}

	if url := os.Getenv("APPBRIDGE_LLM_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}
	if model := os.Getenv("APPBRIDGE_LLM_MODEL"); model != "" {
		c.LLM.Model = model
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetPollInterval returns the bootstrap poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.Bootstrap.PollInterval)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetDialRetry returns the peer dial retry delay as a duration.
func (c *Config) GetDialRetry() time.Duration {
	d, err := time.ParseDuration(c.Bootstrap.DialRetry)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// BootstrapURL is the doc id discovery endpoint the render process polls.
func (c *Config) BootstrapURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/doc_id", c.Ports.Bootstrap)
}
