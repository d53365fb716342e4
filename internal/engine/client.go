// Package engine abstracts the inference engine the control process owns.
// Providers wrap the vendor SDKs behind one narrow interface; callers that
// must never fail (the tool-use loop) go through Infer, which folds
// transport errors into an inline error string.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Client is the connection to an inference engine. Model is an optional
// hint; empty selects the provider's configured default.
type Client interface {
	// Inference sends one prompt and returns the engine's text reply.
	Inference(ctx context.Context, request, model string) (string, error)

	// NotifyShutdown tells the engine the control process is winding down.
	// Best effort; it must not block shutdown on failure.
	NotifyShutdown(ctx context.Context)
}

// Infer calls the client and converts any failure into an inline error
// string. The tool-use loop always gets a string back; engine errors are
// content, not control flow.
func Infer(ctx context.Context, c Client, request, model string) string {
	reply, err := c.Inference(ctx, request, model)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	return reply
}

// Provider names a supported engine backend.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
)

// Config selects and parameterizes a provider.
type Config struct {
	Provider Provider
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// New builds the configured provider client.
func New(cfg Config) (Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	switch cfg.Provider {
	case ProviderAnthropic:
		return NewAnthropicClient(cfg)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg)
	case ProviderOllama:
		return NewOllamaClient(cfg)
	default:
		return nil, fmt.Errorf("unknown engine provider: %q", cfg.Provider)
	}
}
