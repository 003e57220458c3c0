// Package chat bridges the in-app assistant to an OpenAI-compatible completion API.
package chat

import (
	"fmt"

	"github.com/ashureev/hydraflow/internal/domain"
)

// SystemPrompt frames every conversation.
const SystemPrompt = "You are Hydra, a friendly hydration coach chatbot embedded in a hydration tracking app (HydraFlow). " +
	"Be concise, encouraging, and practical. Use the app context where relevant: user hydration totals, daily goal, " +
	"percent progress, reminders, theme. Provide short actionable answers with bullet points if helpful."

// Greeting is the first visible assistant turn.
const Greeting = "Hi! I’m Hydra 💧 How can I help with your hydration today?"

// EmptyReply replaces a completion that returned no text.
const EmptyReply = "Sorry, I couldn’t generate a response."

const errorTurnPrefix = "I ran into an error calling the assistant: "

// AppContext is the slice of app state shared with the assistant.
type AppContext struct {
	TodayTotal       int
	DailyGoal        int
	Percent          int
	RemindersEnabled bool
	Theme            string
}

// ContextNote renders ctx as a system note.
func ContextNote(ctx AppContext) string {
	return fmt.Sprintf("App Context: today_total_ml=%d, daily_goal_ml=%d, progress_percent=%d, reminders_enabled=%t, theme=%s",
		ctx.TodayTotal, ctx.DailyGoal, ctx.Percent, ctx.RemindersEnabled, ctx.Theme)
}

// BuildTranscript assembles the request messages: the system prompt (unless
// history already starts with one), the history, the optional context note
// and the new user message.
func BuildTranscript(history []domain.ChatMessage, contextNote, userText string) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(history)+3)
	if len(history) == 0 || history[0].Role != domain.RoleSystem {
		out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: SystemPrompt})
	}
	out = append(out, history...)
	if contextNote != "" {
		out = append(out, domain.ChatMessage{Role: domain.RoleSystem, Content: contextNote})
	}
	return append(out, domain.ChatMessage{Role: domain.RoleUser, Content: userText})
}

func initialMessages() []domain.ChatMessage {
	return []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: SystemPrompt},
		{Role: domain.RoleAssistant, Content: Greeting},
	}
}
