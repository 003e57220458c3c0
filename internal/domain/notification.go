package domain

// Notification levels.
const (
	LevelSuccess = "success"
	LevelError   = "error"
	LevelInfo    = "info"
)

// Notification is a transient user-facing message (a toast or a reminder alert).
type Notification struct {
	Kind    string `json:"kind"` // "toast" or "reminder"
	Level   string `json:"level"`
	Message string `json:"message"`
	Sound   bool   `json:"sound,omitempty"`
}

// Toast builds a toast notification.
func Toast(level, message string) Notification {
	return Notification{Kind: "toast", Level: level, Message: message}
}
