package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/hydraflow/internal/chat"
	"github.com/ashureev/hydraflow/internal/identity"
)

// GetChat returns the visible conversation and whether a reply is pending.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	JSON(w, http.StatusOK, map[string]interface{}{
		"messages": h.chat.History(userID),
		"busy":     h.chat.Busy(userID),
	})
}

// SendChat relays one user message to the assistant.
func (h *Handler) SendChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeJSON(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx := r.Context()
	userID := identity.UserIDFromContext(ctx)

	p, err := h.prefs.Load(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req := chat.Request{Text: body.Message, Prefs: p}
	if p.ContextEnabled {
		t, err := h.trackers.Tracker(ctx, userID)
		if err != nil {
			// Context is optional; answer without it.
			slog.Warn("Chat context unavailable", "user_id", userID, "error", err)
		} else {
			snap := t.Snapshot()
			req.Context = &chat.AppContext{
				TodayTotal:       snap.TodayTotal,
				DailyGoal:        snap.Settings.DailyGoal,
				Percent:          snap.Percent,
				RemindersEnabled: snap.Settings.ReminderEnabled,
				Theme:            p.Theme,
			}
		}
	}

	reply, err := h.chat.Send(ctx, userID, req)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrMissingCredential):
			h.metrics.ChatRejected("no_credential")
		case errors.Is(err, chat.ErrBusy):
			h.metrics.ChatRejected("busy")
		case errors.Is(err, chat.ErrEmptyMessage):
			h.metrics.ChatRejected("empty")
		}
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// ResetChat clears the conversation back to the greeting.
func (h *Handler) ResetChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if h.chat.Busy(userID) {
		writeError(w, r, chat.ErrBusy)
		return
	}
	h.chat.Reset(userID)
	JSON(w, http.StatusOK, map[string]interface{}{"messages": h.chat.History(userID)})
}
