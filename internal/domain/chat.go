package domain

// Chat message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of an assistant conversation. It lives only in memory.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
