// Package llm wraps an OpenAI-compatible chat-completion endpoint behind a
// minimal prompt-in, text-out interface. One request is one round-trip; the
// caller owns retries and fallbacks. A client-side rate limiter keeps bursts
// of batch parses inside the provider quota.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"inquest/metrics"
)

// ErrUnavailable wraps every provider-side failure so callers can trigger
// their fallback path with a single errors.Is check.
var ErrUnavailable = errors.New("llm provider unavailable")

// Completer is the surface the parser depends on.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Config holds the completion provider settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	// RequestsPerSecond caps outbound request rate; zero disables limiting.
	RequestsPerSecond float64
	Logger            *zap.SugaredLogger
}

// Client is a rate-limited chat-completion client.
type Client struct {
	client      *openai.Client
	model       string
	temperature float32
	limiter     *rate.Limiter
	logger      *zap.SugaredLogger
}

// New creates a completion client against an OpenAI-compatible base URL.
func New(cfg *Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	return &Client{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		limiter:     limiter,
		logger:      logger,
	}
}

// Complete sends a single-message chat completion and returns the raw
// response text. All provider failures wrap ErrUnavailable.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	duration := time.Since(start)

	if err != nil {
		metrics.LLMRequests.WithLabelValues(c.model, "error").Inc()
		c.logger.Warnw("llm completion failed", "model", c.model, "duration", duration, "error", err)
		return "", wrapAPIError(err)
	}

	if len(resp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(c.model, "empty").Inc()
		return "", fmt.Errorf("empty completion response: %w", ErrUnavailable)
	}

	metrics.LLMRequests.WithLabelValues(c.model, "success").Inc()
	metrics.LLMRequestDuration.WithLabelValues(c.model).Observe(duration.Seconds())
	return resp.Choices[0].Message.Content, nil
}

// HealthCheck verifies the endpoint responds at all via the models listing.
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", wrapAPIError(err))
	}
	return nil
}

// wrapAPIError keeps the provider's status code and message visible while
// tagging the error as a provider failure.
func wrapAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("llm API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, ErrUnavailable)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("llm request error %d: %w", reqErr.HTTPStatusCode, ErrUnavailable)
	}
	return fmt.Errorf("%v: %w", err, ErrUnavailable)
}
