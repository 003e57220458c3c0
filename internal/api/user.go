package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/hydraflow/internal/chat"
	"github.com/ashureev/hydraflow/internal/hydration"
	"github.com/ashureev/hydraflow/internal/identity"
)

// Choices offered by the client.
var (
	goalPresets     = []int{2000, 2500, 3000, 4000}
	quickAmounts    = []int{250, 500, 750, 1000}
	intervalOptions = []int{2, 30, 45, 60, 90}
)

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":       user.UserID,
		"username":      user.Username,
		"authenticated": identity.IsAuthenticated(r.Context()),
		"created_at":    user.CreatedAt,
	})
}

// GetConfig returns the static client configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"goal_presets":       goalPresets,
		"quick_amounts":      quickAmounts,
		"interval_options":   intervalOptions,
		"log_window":         hydration.LogWindow,
		"bottle_size_ml":     hydration.BottleSizeML,
		"default_model":      h.cfg.Chat.DefaultModel,
		"server_credential":  h.cfg.Chat.APIKey != "",
		"chat_greeting":      chat.Greeting,
		"bearer_auth":        h.cfg.Auth.JWTSecret != "",
		"reminder_unit":      "minutes",
		"break_window_days":  hydration.DefaultBreakWindowDays,
		"max_log_amount_ml":  5000,
		"daily_goal_min_max": []int{500, 10000},
	})
}

// SignOut tears down the user's in-memory state: reminder, cached tracker,
// chat conversation and event streams.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	h.reminders.Stop(userID)
	h.trackers.Evict(userID)
	h.chat.Reset(userID)
	h.events.CloseUser(userID)
	identity.SignOut(w, h.cfg.IsDevelopment())

	slog.Info("User signed out", "user_id", userID, "username", identity.UsernameFromContext(r.Context()))
	JSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}
