package advisory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reasoner returns the assistant's text for a conversation.
type Reasoner interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// ChatClient calls an OpenAI-compatible chat completions endpoint with zero temperature.
type ChatClient struct {
	client    *resty.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewChatClient targets baseURL/chat/completions.
func NewChatClient(baseURL, apiKey, model string, maxTokens int, timeout time.Duration, logger *zap.Logger) *ChatClient {
	return &ChatClient{
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetAuthToken(apiKey),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger.Named("reasoner"),
	}
}

// Complete implements Reasoner. Transport failures and non-2xx statuses are errors.
func (c *ChatClient) Complete(ctx context.Context, messages []Message) (string, error) {
	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: 0,
			MaxTokens:   c.maxTokens,
		}).
		SetResult(&out).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("reasoning request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("reasoning service returned %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	if len(out.Choices) == 0 {
		return "", errors.New("reasoning service returned no choices")
	}

	content := out.Choices[0].Message.Content
	c.logger.Debug("Reasoning reply", zap.Int("chars", len(content)), zap.Duration("latency", resp.Time()))
	return content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
