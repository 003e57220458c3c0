package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// CompletionRequest is one chat completion call.
type CompletionRequest struct {
	APIKey      string
	Model       string
	Messages    []domain.ChatMessage
	Temperature float64
	MaxTokens   int
}

// Completer calls a chat completion endpoint and returns the first choice's text.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// OpenAICompleter talks to any OpenAI-compatible /chat/completions endpoint.
type OpenAICompleter struct {
	client openai.Client
}

// NewOpenAICompleter creates a completer for baseURL. Retries are disabled so
// a failed call surfaces as exactly one error turn.
func NewOpenAICompleter(baseURL string, timeout time.Duration) *OpenAICompleter {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &OpenAICompleter{client: openai.NewClient(opts...)}
}

// Complete sends the transcript with the caller's credential.
func (c *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, option.WithAPIKey(req.APIKey))
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("completion API returned %d: %s", apiErr.StatusCode, apiMessage(apiErr))
		}
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func apiMessage(e *openai.Error) string {
	if e.Message != "" {
		return e.Message
	}
	if raw := e.RawJSON(); raw != "" {
		return raw
	}
	return "no error body"
}
