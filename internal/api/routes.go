package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the API routes. chatLimit wraps the chat send
// endpoint, typically with a per-user rate limiter.
func (h *Handler) RegisterRoutes(r chi.Router, chatLimit func(http.Handler) http.Handler) {
	if chatLimit == nil {
		chatLimit = func(next http.Handler) http.Handler { return next }
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Post("/signout", h.SignOut)

		r.Get("/dashboard", h.Dashboard)

		r.Get("/logs", h.ListLogs)
		r.Post("/logs", h.AddLog)
		r.Delete("/logs/{id}", h.DeleteLog)

		r.Get("/settings", h.GetSettings)
		r.Patch("/settings", h.PatchSettings)

		r.Get("/breaks", h.ListBreaks)
		r.Post("/breaks", h.AddBreak)

		r.Get("/preferences", h.GetPreferences)
		r.Patch("/preferences", h.PatchPreferences)
		r.Post("/preferences/theme/toggle", h.ToggleTheme)

		r.Get("/chat", h.GetChat)
		r.With(chatLimit).Post("/chat", h.SendChat)
		r.Delete("/chat", h.ResetChat)
	})
}
