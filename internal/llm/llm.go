// Package llm talks to a local Ollama instance through its
// OpenAI-compatible API, providing chat completion (batch and
// streaming) and embeddings.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	archerrors "lifearch/internal/errors"
)

// Embedder produces embedding vectors for texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer produces chat completions.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
	Stream(ctx context.Context, prompt string, opts CompleteOptions, fn func(delta string) error) error
}

// CompleteOptions tunes a single completion call. Zero values fall back
// to the client defaults.
type CompleteOptions struct {
	System      string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// Client is the Ollama-backed Embedder and Completer.
type Client struct {
	api            *openai.Client
	model          string
	embeddingModel string
	timeout        time.Duration
	limiter        *rate.Limiter
	logger         *slog.Logger
}

var (
	_ Embedder  = (*Client)(nil)
	_ Completer = (*Client)(nil)
)

// Option configures the Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// New creates a Client against an OpenAI-compatible base URL, typically
// Ollama's /v1 endpoint.
func New(baseURL, model, embeddingModel string, timeout time.Duration, opts ...Option) *Client {
	cfg := openai.DefaultConfig("ollama")
	cfg.BaseURL = baseURL

	c := &Client{
		api:            openai.NewClientWithConfig(cfg),
		model:          model,
		embeddingModel: embeddingModel,
		timeout:        timeout,
		limiter:        rate.NewLimiter(rate.Inf, 1),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete runs a single chat completion and returns the full answer.
func (c *Client) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	ctx, cancel := c.withTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait cancelled; %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, c.buildRequest(prompt, opts, false))
	if err != nil {
		return "", archerrors.Wrap(archerrors.KindUnavailable, "completion failed", err)
	}
	if len(resp.Choices) == 0 {
		return "", archerrors.New(archerrors.KindUnavailable, "completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream runs a chat completion and feeds each delta to fn. A non-nil
// error from fn cancels the stream and is returned.
func (c *Client) Stream(ctx context.Context, prompt string, opts CompleteOptions, fn func(delta string) error) error {
	ctx, cancel := c.withTimeout(ctx, opts.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled; %w", err)
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, c.buildRequest(prompt, opts, true))
	if err != nil {
		return archerrors.Wrap(archerrors.KindUnavailable, "failed to open completion stream", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return archerrors.Wrap(archerrors.KindUnavailable, "completion stream failed", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			if err := fn(delta); err != nil {
				return err
			}
		}
	}
}

// Embed returns one embedding vector per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := c.withTimeout(ctx, 0)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled; %w", err)
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindUnavailable, "embedding request failed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, archerrors.Newf(archerrors.KindUnavailable,
			"embedding count mismatch: %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

func (c *Client) buildRequest(prompt string, opts CompleteOptions, stream bool) openai.ChatCompletionRequest {
	var messages []openai.ChatCompletionMessage
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: opts.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	return openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
}

func (c *Client) withTimeout(ctx context.Context, override time.Duration) (context.Context, context.CancelFunc) {
	timeout := c.timeout
	if override > 0 {
		timeout = override
	}
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
