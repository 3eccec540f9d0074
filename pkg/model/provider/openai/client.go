// Package openai implements the provider interface against any
// OpenAI-compatible endpoint, which covers the local model runtimes this
// tool targets (llama.cpp, Docker Model Runner, vLLM, ...).
package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/tablechat/tablechat/pkg/chat"
	"github.com/tablechat/tablechat/pkg/config"
)

// Client wraps the OpenAI-compatible API client. It implements the
// provider.Provider interface.
type Client struct {
	client      *goopenai.Client
	model       string
	temperature float32
	maxTokens   int
}

// NewClient creates a client for the configured endpoint.
func NewClient(cfg *config.ModelConfig) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("model configuration is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("model base URL is required")
	}

	clientConfig := goopenai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL

	slog.Debug("Model client created", "base_url", cfg.BaseURL, "model", cfg.Model)

	return &Client{
		client:      goopenai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

func (c *Client) CreateChatCompletionStream(ctx context.Context, messages []chat.Message) (chat.MessageStream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertMessages(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chat completion stream: %w", err)
	}
	return &streamAdapter{stream: stream}, nil
}

func (c *Client) CreateChatCompletion(ctx context.Context, messages []chat.Message) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    convertMessages(messages),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("creating chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func convertMessages(messages []chat.Message) []goopenai.ChatCompletionMessage {
	converted := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		converted = append(converted, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return converted
}

// streamAdapter adapts the OpenAI stream to chat.MessageStream.
type streamAdapter struct {
	stream *goopenai.ChatCompletionStream
}

func (a *streamAdapter) Recv() (chat.MessageStreamResponse, error) {
	resp, err := a.stream.Recv()
	if err != nil {
		// io.EOF passes through untouched, the consumer keys on it.
		return chat.MessageStreamResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return chat.MessageStreamResponse{}, nil
	}
	return chat.MessageStreamResponse{Content: resp.Choices[0].Delta.Content}, nil
}

func (a *streamAdapter) Close() error {
	return a.stream.Close()
}
