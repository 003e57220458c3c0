package chat

import (
	"fmt"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/tiktoken-go/tokenizer"
)

// perMessageOverhead approximates the role and framing tokens of one chat message.
const perMessageOverhead = 4

// TokenCounter counts tokens with the GPT-4 encoding.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter loads the GPT-4 codec.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the tokens in text, estimating from length if no codec is available.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Trim drops the oldest turns until messages fit in limit tokens. A leading
// system prompt and the final message are always kept.
func (tc *TokenCounter) Trim(messages []domain.ChatMessage, limit int) []domain.ChatMessage {
	if limit <= 0 || len(messages) == 0 {
		return messages
	}

	var head []domain.ChatMessage
	rest := messages
	if rest[0].Role == domain.RoleSystem {
		head, rest = rest[:1], rest[1:]
	}

	used := 0
	for _, m := range head {
		used += tc.Count(m.Content) + perMessageOverhead
	}

	start := len(rest)
	for i := len(rest) - 1; i >= 0; i-- {
		cost := tc.Count(rest[i].Content) + perMessageOverhead
		if used+cost > limit && i < len(rest)-1 {
			break
		}
		used += cost
		start = i
	}

	out := make([]domain.ChatMessage, 0, len(head)+len(rest)-start)
	out = append(out, head...)
	return append(out, rest[start:]...)
}
