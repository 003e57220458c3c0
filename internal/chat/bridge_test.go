package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/ashureev/hydraflow/internal/prefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCompleter struct {
	mu      sync.Mutex
	calls   []CompletionRequest
	reply   string
	err     error
	release chan struct{}
	started chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	started, release := f.started, f.release
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}
	return f.reply, f.err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func userPrefs(key string) prefs.Preferences {
	p := prefs.Defaults()
	p.APIKey = key
	p.HasAPIKey = key != ""
	return p
}

func TestBuildTranscript(t *testing.T) {
	msgs := BuildTranscript(nil, "App Context: x", "hello")
	require.Len(t, msgs, 3)
	assert.Equal(t, domain.ChatMessage{Role: domain.RoleSystem, Content: SystemPrompt}, msgs[0])
	assert.Equal(t, domain.RoleSystem, msgs[1].Role)
	assert.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "hello"}, msgs[2])

	msgs = BuildTranscript(initialMessages(), "", "hi")
	require.Len(t, msgs, 3, "existing system prompt is not duplicated")
	assert.Equal(t, domain.RoleAssistant, msgs[1].Role)
}

func TestContextNote(t *testing.T) {
	note := ContextNote(AppContext{TodayTotal: 800, DailyGoal: 2500, Percent: 32, RemindersEnabled: true, Theme: "primary"})
	assert.Equal(t, "App Context: today_total_ml=800, daily_goal_ml=2500, progress_percent=32, reminders_enabled=true, theme=primary", note)
}

func TestSendWithoutCredentialMakesNoCall(t *testing.T) {
	completer := &fakeCompleter{reply: "hi"}
	b := NewBridge(completer, nil, Config{})

	_, err := b.Send(context.Background(), "u1", Request{Text: "hello", Prefs: userPrefs("")})
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, 0, completer.callCount())
	assert.Equal(t, []domain.ChatMessage{{Role: domain.RoleAssistant, Content: Greeting}}, b.History("u1"))
}

func TestSendEmptyMessage(t *testing.T) {
	b := NewBridge(&fakeCompleter{}, nil, Config{EnvAPIKey: "sk-env"})
	_, err := b.Send(context.Background(), "u1", Request{Text: "   ", Prefs: prefs.Defaults()})
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestSendAppendsReplyAndContext(t *testing.T) {
	completer := &fakeCompleter{reply: "Drink a glass now."}
	b := NewBridge(completer, nil, Config{EnvAPIKey: "sk-env", Temperature: 0.5, MaxTokens: 500})

	reply, err := b.Send(context.Background(), "u1", Request{
		Text:    "  how am I doing?  ",
		Prefs:   prefs.Defaults(),
		Context: &AppContext{TodayTotal: 800, DailyGoal: 2500, Percent: 32, RemindersEnabled: true},
	})
	require.NoError(t, err)
	assert.False(t, reply.Failed)
	assert.Equal(t, "Drink a glass now.", reply.Message.Content)

	require.Equal(t, 1, completer.callCount())
	req := completer.calls[0]
	assert.Equal(t, "sk-env", req.APIKey)
	assert.Equal(t, prefs.DefaultModel, req.Model)
	assert.InDelta(t, 0.5, req.Temperature, 1e-9)
	assert.Equal(t, 500, req.MaxTokens)
	require.Len(t, req.Messages, 4)
	assert.Contains(t, req.Messages[2].Content, "theme=primary")
	assert.Equal(t, "how am I doing?", req.Messages[3].Content)

	history := b.History("u1")
	require.Len(t, history, 3)
	assert.Equal(t, domain.RoleUser, history[1].Role)
	assert.Equal(t, "Drink a glass now.", history[2].Content)
}

func TestSendContextDisabledOmitsNote(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	b := NewBridge(completer, nil, Config{})
	p := userPrefs("sk-user")
	p.ContextEnabled = false

	_, err := b.Send(context.Background(), "u1", Request{Text: "hi", Prefs: p, Context: &AppContext{}})
	require.NoError(t, err)
	for _, m := range completer.calls[0].Messages {
		assert.False(t, strings.HasPrefix(m.Content, "App Context:"))
	}
	assert.Equal(t, "sk-user", completer.calls[0].APIKey)
}

func TestSendEmptyCompletion(t *testing.T) {
	b := NewBridge(&fakeCompleter{reply: ""}, nil, Config{EnvAPIKey: "k"})
	reply, err := b.Send(context.Background(), "u1", Request{Text: "hi", Prefs: prefs.Defaults()})
	require.NoError(t, err)
	assert.Equal(t, EmptyReply, reply.Message.Content)
}

func TestSendRejectsConcurrentMessage(t *testing.T) {
	completer := &fakeCompleter{reply: "done", started: make(chan struct{}, 1), release: make(chan struct{})}
	b := NewBridge(completer, nil, Config{EnvAPIKey: "k"})

	done := make(chan error, 1)
	go func() {
		_, err := b.Send(context.Background(), "u1", Request{Text: "first", Prefs: prefs.Defaults()})
		done <- err
	}()
	<-completer.started
	assert.True(t, b.Busy("u1"))

	_, err := b.Send(context.Background(), "u1", Request{Text: "second", Prefs: prefs.Defaults()})
	assert.ErrorIs(t, err, ErrBusy)

	close(completer.release)
	require.NoError(t, <-done)
	assert.False(t, b.Busy("u1"))
	assert.Equal(t, 1, completer.callCount())
}

func TestSendUpstreamErrorAddsOneErrorTurn(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "Incorrect API key provided", "type": "invalid_request_error"},
		})
	}))
	defer srv.Close()

	var outcomes []string
	b := NewBridge(NewOpenAICompleter(srv.URL+"/", 5*time.Second), nil, Config{Temperature: 0.5, MaxTokens: 500})
	b.OnOutcome(func(o string, _ time.Duration) { outcomes = append(outcomes, o) })

	reply, err := b.Send(context.Background(), "u1", Request{Text: "hello", Prefs: userPrefs("sk-test")})
	require.NoError(t, err)
	assert.True(t, reply.Failed)
	assert.True(t, strings.HasPrefix(reply.Message.Content, errorTurnPrefix), reply.Message.Content)
	assert.Contains(t, reply.Message.Content, "401")
	assert.Equal(t, 1, hits)
	assert.Equal(t, []string{OutcomeError}, outcomes)
	assert.False(t, b.Busy("u1"))

	history := b.History("u1")
	require.Len(t, history, 3)
	assert.Equal(t, reply.Message, history[2])
}

func TestOpenAICompleterSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		assert.InDelta(t, 0.5, body["temperature"], 1e-9)
		assert.InDelta(t, 500, body["max_tokens"], 1e-9)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "Stay hydrated!"},
			}},
		})
	}))
	defer srv.Close()

	c := NewOpenAICompleter(srv.URL+"/", 5*time.Second)
	got, err := c.Complete(context.Background(), CompletionRequest{
		APIKey:      "sk-test",
		Model:       "gpt-4o-mini",
		Messages:    BuildTranscript(nil, "", "hi"),
		Temperature: 0.5,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, "Stay hydrated!", got)
}

func TestResetAndPruneIdle(t *testing.T) {
	b := NewBridge(&fakeCompleter{reply: "ok"}, nil, Config{EnvAPIKey: "k"})
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	b.clock = func() time.Time { return now }

	_, err := b.Send(context.Background(), "u1", Request{Text: "hi", Prefs: prefs.Defaults()})
	require.NoError(t, err)
	require.Len(t, b.History("u1"), 3)

	b.Reset("u1")
	assert.Len(t, b.History("u1"), 1)

	now = now.Add(3 * time.Hour)
	assert.Equal(t, 1, b.PruneIdle(2*time.Hour))
}

func TestTrimKeepsSystemPromptAndNewest(t *testing.T) {
	var tc *TokenCounter
	msgs := []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: strings.Repeat("s", 40)},
		{Role: domain.RoleUser, Content: strings.Repeat("a", 400)},
		{Role: domain.RoleAssistant, Content: strings.Repeat("b", 40)},
		{Role: domain.RoleUser, Content: strings.Repeat("c", 40)},
	}
	trimmed := tc.Trim(msgs, 50)
	require.Len(t, trimmed, 3)
	assert.Equal(t, domain.RoleSystem, trimmed[0].Role)
	assert.Equal(t, msgs[2], trimmed[1])
	assert.Equal(t, msgs[3], trimmed[2])

	assert.Equal(t, msgs, tc.Trim(msgs, 0))
}
