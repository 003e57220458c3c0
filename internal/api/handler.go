// Package api provides HTTP handlers for the HydraFlow API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/hydraflow/internal/chat"
	"github.com/ashureev/hydraflow/internal/config"
	"github.com/ashureev/hydraflow/internal/hydration"
	"github.com/ashureev/hydraflow/internal/metrics"
	"github.com/ashureev/hydraflow/internal/notify"
	"github.com/ashureev/hydraflow/internal/prefs"
	"github.com/ashureev/hydraflow/internal/reminder"
	"github.com/ashureev/hydraflow/internal/store"
)

const maxBodyBytes = 64 << 10

// Deps are the services the handlers call into.
type Deps struct {
	Repo      store.Repository
	Trackers  *hydration.Service
	Prefs     *prefs.Service
	Chat      *chat.Bridge
	Reminders *reminder.Manager
	Events    *notify.Hub
	Metrics   *metrics.Recorder
	Config    *config.Config
}

// Handler provides the HydraFlow endpoints.
type Handler struct {
	repo      store.Repository
	trackers  *hydration.Service
	prefs     *prefs.Service
	chat      *chat.Bridge
	reminders *reminder.Manager
	events    *notify.Hub
	metrics   *metrics.Recorder
	cfg       *config.Config
}

// NewHandler creates a new Handler with its dependencies.
func NewHandler(d Deps) *Handler {
	return &Handler{
		repo:      d.Repo,
		trackers:  d.Trackers,
		prefs:     d.Prefs,
		chat:      d.Chat,
		reminders: d.Reminders,
		events:    d.Events,
		metrics:   d.Metrics,
		cfg:       d.Config,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, hydration.ErrInvalidAmount),
		errors.Is(err, hydration.ErrInvalidGoal),
		errors.Is(err, hydration.ErrInvalidInterval),
		errors.Is(err, hydration.ErrInvalidWindow),
		errors.Is(err, hydration.ErrEmptyPatch),
		errors.Is(err, prefs.ErrInvalidTheme),
		errors.Is(err, chat.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, hydration.ErrLogNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chat.ErrBusy):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, chat.ErrMissingCredential):
		JSON(w, http.StatusPreconditionRequired, map[string]string{
			"error":  err.Error(),
			"action": "configure",
		})
	case errors.Is(err, hydration.ErrTrackerClosed):
		Error(w, http.StatusServiceUnavailable, "session reset, please retry")
	default:
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
