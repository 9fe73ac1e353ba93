// Package llm talks to an OpenAI-compatible chat completion endpoint.
//
// A nil *Client is valid and reports ErrUnavailable from every call, which is
// how callers run without a configured model.
package llm

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/alias/backend/internal/metrics"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when no model endpoint is configured.
var ErrUnavailable = errors.New("llm: model endpoint not configured")

// Config wires the client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Logger  *zap.Logger
}

// CompletionOptions tunes a single completion.
type CompletionOptions struct {
	Temperature float32
	MaxTokens   int
}

// Client issues completions against the configured model.
type Client struct {
	api    *openai.Client
	model  string
	logger *zap.Logger
}

// New returns a Client, or nil when cfg carries no API key.
func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientConfig.BaseURL = strings.TrimRight(base, "/")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = openai.GPT4oMini
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:    openai.NewClientWithConfig(clientConfig),
		model:  model,
		logger: logger,
	}
}

// Enabled reports whether calls can reach a model.
func (c *Client) Enabled() bool {
	return c != nil && c.api != nil
}

// Complete returns the full reply to prompt.
func (c *Client) Complete(ctx context.Context, system, prompt string, opts CompletionOptions) (string, error) {
	if !c.Enabled() {
		return "", ErrUnavailable
	}
	response, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    buildMessages(system, prompt),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	metrics.LLMRequestsTotal.WithLabelValues("complete", metrics.Outcome(err)).Inc()
	if err != nil {
		c.logger.Warn("llm completion failed", zap.Error(err))
		return "", err
	}
	if len(response.Choices) == 0 {
		return "", errors.New("llm: empty completion")
	}
	return strings.TrimSpace(response.Choices[0].Message.Content), nil
}

// Stream sends the reply to prompt through emit as it arrives. It stops when
// the model finishes, ctx is cancelled, or emit returns an error.
func (c *Client) Stream(ctx context.Context, system, prompt string, emit func(delta string) error) (err error) {
	if !c.Enabled() {
		return ErrUnavailable
	}
	defer func() {
		metrics.LLMRequestsTotal.WithLabelValues("stream", metrics.Outcome(err)).Inc()
	}()

	stream, err := c.api.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: buildMessages(system, prompt),
		Stream:   true,
	})
	if err != nil {
		c.logger.Warn("llm stream failed to open", zap.Error(err))
		return err
	}
	defer stream.Close()

	for {
		chunk, recvErr := stream.Recv()
		if errors.Is(recvErr, io.EOF) {
			return nil
		}
		if recvErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("llm stream interrupted", zap.Error(recvErr))
			return recvErr
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if err := emit(delta); err != nil {
			return err
		}
	}
}

func buildMessages(system, prompt string) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	return append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
}
