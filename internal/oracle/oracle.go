package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("oracle returned no content")

// Oracle is the external text generator used by interview rounds.
type Oracle interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Client wraps an OpenAI-compatible chat completion API.
type Client struct {
	api     *openai.Client
	model   string
	timeout time.Duration
	log     zerolog.Logger
}

// New creates a new oracle client. A zero timeout disables the per-call deadline.
func New(baseURL, apiKey, modelName string, timeout time.Duration, log zerolog.Logger) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		model:   modelName,
		timeout: timeout,
		log:     log.With().Str("component", "oracle").Logger(),
	}
}

// Generate sends prompt as a single user message and returns the reply text.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.4,
	})
	if err != nil {
		return "", fmt.Errorf("oracle API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}

	raw := strings.TrimSpace(resp.Choices[0].Message.Content)
	c.log.Debug().
		Dur("elapsed", time.Since(start)).
		Int("tokens", resp.Usage.TotalTokens).
		Msg("oracle response")
	if raw == "" {
		return "", ErrEmptyResponse
	}
	return raw, nil
}
