// Package openai adapts the OpenAI chat completion API to the model
// capability port. Error classification follows the retryability of the
// upstream status: rate limits and server errors are transient, request
// errors are fatal.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	backend "github.com/sashabaranov/go-openai"

	"github.com/seragusa/espalier/pkg/domain"
	"github.com/seragusa/espalier/pkg/ports"
)

const defaultModel = "gpt-4o-mini"

// Client implements ports.ModelClient against the OpenAI API (or any
// compatible endpoint via WithBaseURL).
type Client struct {
	api         *backend.Client
	model       string
	temperature float32
}

type Option func(*config)

type config struct {
	model       string
	baseURL     string
	temperature float32
}

// WithModel overrides the completion model.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint, such as a
// local inference server or a test double.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(c *config) {
		c.temperature = t
	}
}

// New creates a client.
func New(apiKey string, opts ...Option) *Client {
	cfg := config{model: defaultModel}
	for _, opt := range opts {
		opt(&cfg)
	}

	apiCfg := backend.DefaultConfig(apiKey)
	if cfg.baseURL != "" {
		apiCfg.BaseURL = cfg.baseURL
	}

	return &Client{
		api:         backend.NewClientWithConfig(apiCfg),
		model:       cfg.model,
		temperature: cfg.temperature,
	}
}

// Complete sends the request as a chat completion. The running summary goes
// in as a system note ahead of the raw transcript, so compressed history
// stays visible to the model.
func (c *Client) Complete(ctx context.Context, req ports.CompletionRequest) (ports.Completion, error) {
	messages := make([]backend.ChatCompletionMessage, 0, len(req.Messages)+3)
	if req.System != "" {
		messages = append(messages, backend.ChatCompletionMessage{
			Role:    backend.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	if req.Summary != "" {
		messages = append(messages, backend.ChatCompletionMessage{
			Role:    backend.ChatMessageRoleSystem,
			Content: "Conversation so far: " + req.Summary,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, backend.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Text,
		})
	}
	if req.Prompt != "" {
		messages = append(messages, backend.ChatCompletionMessage{
			Role:    backend.ChatMessageRoleUser,
			Content: req.Prompt,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, backend.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return ports.Completion{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return ports.Completion{}, fmt.Errorf("%w: completion returned no choices", domain.ErrModelFatal)
	}

	return ports.Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func chatRole(role string) string {
	switch role {
	case domain.RoleAssistant:
		return backend.ChatMessageRoleAssistant
	case domain.RoleSystem:
		return backend.ChatMessageRoleSystem
	default:
		return backend.ChatMessageRoleUser
	}
}

// classify maps upstream failures onto the model error taxonomy.
func classify(err error) error {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) {
		return classifyStatus(apiErr.HTTPStatusCode, err)
	}
	var reqErr *backend.RequestError
	if errors.As(err, &reqErr) {
		return classifyStatus(reqErr.HTTPStatusCode, err)
	}
	// Network-level failure: worth retrying.
	return fmt.Errorf("%w: %v", domain.ErrModelTransient, err)
}

func classifyStatus(status int, err error) error {
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %v", domain.ErrModelTransient, err)
	default:
		return fmt.Errorf("%w: %v", domain.ErrModelFatal, err)
	}
}
