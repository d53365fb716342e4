package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIClient implements Client against the OpenAI API (or any
// OpenAI-compatible endpoint via BaseURL) using the official SDK.
type OpenAIClient struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIClient builds an OpenAI engine client.
func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIClient{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: cfg.Timeout,
	}, nil
}

// Inference implements Client.
func (c *OpenAIClient) Inference(ctx context.Context, request, model string) (string, error) {
	if model == "" {
		model = c.model
	}
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(request),
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai inference: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai inference: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}

// NotifyShutdown implements Client. The HTTP API has no shutdown call;
// nothing to send.
func (c *OpenAIClient) NotifyShutdown(context.Context) {}
