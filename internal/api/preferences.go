package api

import (
	"net/http"

	"github.com/ashureev/hydraflow/internal/identity"
	"github.com/ashureev/hydraflow/internal/prefs"
)

type preferencesResponse struct {
	prefs.Preferences
	CredentialSource string `json:"credential_source"`
}

func (h *Handler) preferencesView(p prefs.Preferences) preferencesResponse {
	_, source, _ := prefs.ResolveAPIKey(p, h.cfg.Chat.APIKey)
	return preferencesResponse{Preferences: p, CredentialSource: source}
}

// GetPreferences returns the user's preferences. The stored key is never echoed.
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	p, err := h.prefs.Load(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, h.preferencesView(p))
}

// PatchPreferences updates model, context sharing, theme or the API key.
func (h *Handler) PatchPreferences(w http.ResponseWriter, r *http.Request) {
	var patch prefs.Patch
	if err := decodeJSON(r, &patch); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	p, err := h.prefs.Update(r.Context(), userID, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, h.preferencesView(p))
}

// ToggleTheme flips between the primary and secondary themes.
func (h *Handler) ToggleTheme(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	p, err := h.prefs.ToggleTheme(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, h.preferencesView(p))
}
