package api

import (
	"log/slog"
	"net/http"

	"github.com/ashureev/companion-web/internal/identity"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the JSON API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/companions", h.ListCompanions)
		r.Get("/companions/{id}", h.GetCompanion)

		r.Group(func(r chi.Router) {
			r.Use(identity.RequireAuth)
			r.Get("/me", h.GetMe)
			r.Get("/chats", h.ListChats)
			r.Get("/collection", h.ListCollection)
		})
	})
}

// GetMe returns the current user's information.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())

	user, err := h.repo.GetUser(r.Context(), id.UserID)
	if err != nil {
		slog.Error("Failed to load user", "error", err, "user_id", id.UserID)
		Error(w, http.StatusInternalServerError, "failed to load user")
		return
	}
	if user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user":               user,
		"session_expires_at": id.ExpiresAt.UTC(),
	})
}

// GetConfig returns the sign-in switches for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"oauth_provider":   h.features.OAuthProvider,
		"telegram_enabled": h.features.TelegramEnabled,
	})
}
