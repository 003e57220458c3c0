package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/hydraflow/internal/domain"
	"github.com/ashureev/hydraflow/internal/hydration"
	"github.com/ashureev/hydraflow/internal/identity"
	"github.com/go-chi/chi/v5"
)

type dashboardResponse struct {
	hydration.Snapshot
	Streak         int             `json:"streak"`
	ActivityBreaks int             `json:"activity_breaks"`
	BottlesSaved   int             `json:"bottles_saved"`
	Radar          hydration.Radar `json:"radar"`
	Mood           hydration.Mood  `json:"mood"`
	ReminderArmed  bool            `json:"reminder_armed"`
}

type progressResponse struct {
	TodayTotal int `json:"today_total"`
	Percent    int `json:"percent"`
}

func (h *Handler) tracker(w http.ResponseWriter, r *http.Request) (*hydration.Tracker, bool) {
	userID := identity.UserIDFromContext(r.Context())
	t, err := h.trackers.Tracker(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return t, true
}

// Dashboard returns everything the main screen shows.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	streak, err := t.EvaluateStreak(ctx)
	if err != nil {
		slog.Warn("Streak evaluation failed", "user_id", t.UserID(), "error", err)
	}
	breaks, err := t.ActivityBreaks(ctx, hydration.DefaultBreakWindowDays)
	if err != nil {
		slog.Warn("Activity break count failed", "user_id", t.UserID(), "error", err)
	}

	snap := t.Snapshot()
	radar := hydration.RadarFor(snap.TodayTotal, snap.Settings.DailyGoal, breaks)
	JSON(w, http.StatusOK, dashboardResponse{
		Snapshot:       snap,
		Streak:         streak,
		ActivityBreaks: breaks,
		BottlesSaved:   radar.BottlesSaved,
		Radar:          radar,
		Mood:           hydration.MoodFor(snap.Percent),
		ReminderArmed:  h.reminders.Armed(t.UserID()),
	})
}

// ListLogs returns the newest cached logs.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"logs": t.Logs()})
}

// AddLog records a water intake. with_break also logs an activity break.
func (h *Handler) AddLog(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount    int  `json:"amount"`
		WithBreak bool `json:"with_break"`
	}
	if err := decodeJSON(r, &body); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	log, err := t.AddLog(r.Context(), body.Amount)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.WaterLogged(log.Amount)

	resp := map[string]interface{}{
		"log":         log,
		"today_total": t.TodayTotal(),
		"percent":     t.Percent(),
	}
	if body.WithBreak {
		// The intake is already stored, so a failed break does not fail the request.
		b, err := t.LogActivityBreak(r.Context())
		if err != nil {
			slog.Warn("Activity break with intake failed", "user_id", identity.UserIDFromContext(r.Context()), "error", err)
		} else {
			h.metrics.ActivityBreak()
			resp["break"] = b
		}
	}
	JSON(w, http.StatusCreated, resp)
}

// DeleteLog removes one of the user's logs.
func (h *Handler) DeleteLog(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	if err := t.RemoveLog(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.LogRemoved()
	JSON(w, http.StatusOK, progressResponse{TodayTotal: t.TodayTotal(), Percent: t.Percent()})
}

// GetSettings returns the user's settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, t.Settings())
}

// PatchSettings applies a partial settings update.
func (h *Handler) PatchSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.SettingsPatch
	if err := decodeJSON(r, &patch); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	settings, err := t.UpdateSettings(r.Context(), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.SettingsUpdated()
	JSON(w, http.StatusOK, settings)
}

// ListBreaks returns the activity break count over ?days= (default 7).
func (h *Handler) ListBreaks(w http.ResponseWriter, r *http.Request) {
	days := hydration.DefaultBreakWindowDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			Error(w, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = n
	}
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}

	count, err := t.ActivityBreaks(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"days":  days,
		"count": count,
		"score": hydration.ActivityScore(count),
	})
}

// AddBreak logs an activity break now.
func (h *Handler) AddBreak(w http.ResponseWriter, r *http.Request) {
	t, ok := h.tracker(w, r)
	if !ok {
		return
	}
	b, err := t.LogActivityBreak(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.metrics.ActivityBreak()
	JSON(w, http.StatusCreated, b)
}
