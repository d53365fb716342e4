package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.1:latest"
)

// OllamaClient implements Client against a local Ollama server.
type OllamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
}

// NewOllamaClient builds an Ollama engine client. No API key is needed.
func NewOllamaClient(cfg Config) (*OllamaClient, error) {
	base := cfg.BaseURL
	if base == "" {
		base = defaultOllamaURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL %q: %w", base, err)
	}
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	return &OllamaClient{
		client:  api.NewClient(parsed, http.DefaultClient),
		model:   model,
		timeout: cfg.Timeout,
	}, nil
}

// Inference implements Client. The reply is accumulated from the response
// stream; mini-app callers want one string, not chunks.
func (c *OllamaClient) Inference(ctx context.Context, request, model string) (string, error) {
	if model == "" {
		model = c.model
	}
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stream := true
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{{Role: "user", Content: request}},
		Stream:   &stream,
	}

	var sb strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama inference: %w", err)
	}
	return sb.String(), nil
}

// NotifyShutdown implements Client. Ollama has no shutdown notification;
// nothing to send.
func (c *OllamaClient) NotifyShutdown(context.Context) {}
