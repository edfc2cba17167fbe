package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// DefaultChatModel answers composed queries.
	DefaultChatModel = "gpt-4o-mini"

	// DefaultTimeout bounds a single API call.
	DefaultTimeout = 60 * time.Second

	retryInitialInterval = 500 * time.Millisecond
	retryMultiplier      = 2.0
	retryJitter          = 0.2
	retryMaxInterval     = 30 * time.Second
	retryMaxAttempts     = 6
)

var (
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("OpenAI API key not set")
)

// Client wraps the OpenAI SDK with the retry policy shared by the
// embedder and the completion side.
type Client struct {
	api     openai.Client
	model   string
	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithChatModel overrides the completion model.
func WithChatModel(model string) ClientOption {
	return func(c *Client) {
		c.model = model
	}
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// NewClient creates a client for the given API key.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	c := &Client{
		api:     openai.NewClient(option.WithAPIKey(apiKey)),
		model:   DefaultChatModel,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ModelName returns the completion model in use.
func (c *Client) ModelName() string {
	return c.model
}

// GenerateCompletion runs one chat completion with a system and a user
// message, retrying transient failures.
func (c *Client) GenerateCompletion(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
	}

	var content string
	err := c.withRetry(ctx, func() error {
		completion, err := c.api.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return backoff.Permanent(errors.New("no completion choices returned"))
		}
		content = completion.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("completion failed: %w", err)
	}
	return content, nil
}

// withRetry runs fn under the shared exponential backoff policy.
// Transient failures (timeouts, 429, 5xx) retry up to the attempt limit;
// anything else is permanent.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = retryInitialInterval
	policy.Multiplier = retryMultiplier
	policy.RandomizationFactor = retryJitter
	policy.MaxInterval = retryMaxInterval

	wrapped := func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(wrapped,
		backoff.WithContext(backoff.WithMaxRetries(policy, retryMaxAttempts-1), ctx))
}

// isTransient classifies an error as retryable: rate limits, server-side
// failures, and network timeouts.
func isTransient(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
