package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/ashureev/hydraflow/internal/prefs"
)

var (
	ErrEmptyMessage      = errors.New("message is empty")
	ErrMissingCredential = errors.New("no API key configured")
	ErrBusy              = errors.New("a reply is already in progress")
)

// Outcomes reported to the outcome hook.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// Config holds the completion parameters shared by every user.
type Config struct {
	EnvAPIKey         string
	Temperature       float64
	MaxTokens         int
	HistoryTokenLimit int
}

// Request is one user message plus what the bridge needs to answer it.
type Request struct {
	Text    string
	Prefs   prefs.Preferences
	Context *AppContext
}

// Reply is the assistant turn appended for a Request. Failed is set when the
// turn describes a completion error.
type Reply struct {
	Message domain.ChatMessage `json:"message"`
	Failed  bool               `json:"failed"`
}

type conversation struct {
	flight sync.Mutex

	mu       sync.Mutex
	messages []domain.ChatMessage
	lastUsed time.Time
}

func (c *conversation) snapshot() []domain.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ChatMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *conversation) append(now time.Time, msgs ...domain.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msgs...)
	c.lastUsed = now
}

// Bridge keeps one in-memory conversation per user and relays messages to a Completer.
type Bridge struct {
	completer Completer
	counter   *TokenCounter
	cfg       Config
	clock     func() time.Time
	onOutcome func(outcome string, elapsed time.Duration)

	mu    sync.Mutex
	convs map[string]*conversation
}

// NewBridge creates a bridge. counter may be nil, in which case history is
// trimmed using a length estimate.
func NewBridge(completer Completer, counter *TokenCounter, cfg Config) *Bridge {
	return &Bridge{
		completer: completer,
		counter:   counter,
		cfg:       cfg,
		clock:     time.Now,
		convs:     make(map[string]*conversation),
	}
}

// OnOutcome registers a hook called once per completed Send with the completion latency.
func (b *Bridge) OnOutcome(fn func(outcome string, elapsed time.Duration)) {
	b.onOutcome = fn
}

func (b *Bridge) conversation(userID string) *conversation {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.convs[userID]
	if !ok {
		c = &conversation{messages: initialMessages(), lastUsed: b.clock()}
		b.convs[userID] = c
	}
	return c
}

// Send relays text to the completion API and appends exactly one assistant
// turn. Completion failures become an error turn rather than a returned error.
func (b *Bridge) Send(ctx context.Context, userID string, req Request) (Reply, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	apiKey, source, ok := prefs.ResolveAPIKey(req.Prefs, b.cfg.EnvAPIKey)
	if !ok {
		return Reply{}, ErrMissingCredential
	}

	conv := b.conversation(userID)
	if !conv.flight.TryLock() {
		return Reply{}, ErrBusy
	}
	defer conv.flight.Unlock()

	note := ""
	if req.Prefs.ContextEnabled && req.Context != nil {
		c := *req.Context
		if c.Theme == "" {
			c.Theme = req.Prefs.Theme
		}
		note = ContextNote(c)
	}

	transcript := BuildTranscript(conv.snapshot(), note, text)
	added := transcript[len(transcript)-1:]
	if note != "" {
		added = transcript[len(transcript)-2:]
	}
	conv.append(b.clock(), added...)

	transcript = b.counter.Trim(transcript, b.cfg.HistoryTokenLimit)

	started := b.clock()
	slog.Debug("Sending chat completion", "user_id", userID, "messages", len(transcript), "credential", source, "model", req.Prefs.Model)
	content, err := b.completer.Complete(ctx, CompletionRequest{
		APIKey:      apiKey,
		Model:       req.Prefs.Model,
		Messages:    transcript,
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
	})

	reply := Reply{Message: domain.ChatMessage{Role: domain.RoleAssistant}}
	outcome := OutcomeOK
	switch {
	case err != nil:
		slog.Warn("Chat completion failed", "user_id", userID, "error", err)
		reply.Message.Content = errorTurnPrefix + err.Error()
		reply.Failed = true
		outcome = OutcomeError
	case strings.TrimSpace(content) == "":
		reply.Message.Content = EmptyReply
		outcome = OutcomeEmpty
	default:
		reply.Message.Content = content
	}
	conv.append(b.clock(), reply.Message)

	if b.onOutcome != nil {
		b.onOutcome(outcome, b.clock().Sub(started))
	}
	return reply, nil
}

// Busy reports whether a reply is in progress for userID.
func (b *Bridge) Busy(userID string) bool {
	b.mu.Lock()
	c, ok := b.convs[userID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	if c.flight.TryLock() {
		c.flight.Unlock()
		return false
	}
	return true
}

// History returns the visible turns of the user's conversation.
func (b *Bridge) History(userID string) []domain.ChatMessage {
	all := b.conversation(userID).snapshot()
	visible := make([]domain.ChatMessage, 0, len(all))
	for _, m := range all {
		if m.Role != domain.RoleSystem {
			visible = append(visible, m)
		}
	}
	return visible
}

// Reset drops the user's conversation; the next access starts from the greeting.
func (b *Bridge) Reset(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.convs, userID)
}

// PruneIdle drops conversations unused for longer than ttl that have no reply in flight.
func (b *Bridge) PruneIdle(ttl time.Duration) int {
	cutoff := b.clock().Add(-ttl)
	b.mu.Lock()
	defer b.mu.Unlock()

	pruned := 0
	for id, c := range b.convs {
		c.mu.Lock()
		idle := c.lastUsed.Before(cutoff)
		c.mu.Unlock()
		if !idle || !c.flight.TryLock() {
			continue
		}
		delete(b.convs, id)
		c.flight.Unlock()
		pruned++
	}
	return pruned
}
