// Package api provides HTTP handlers for the companion web API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/companion-web/internal/domain"
	"github.com/ashureev/companion-web/internal/store"
	"github.com/ashureev/companion-web/internal/upstream"
)

// CompanionSource serves the public companion catalog.
type CompanionSource interface {
	ListCompanions(ctx context.Context, q upstream.CompanionQuery) ([]domain.Companion, error)
	GetCompanion(ctx context.Context, id string) (*domain.Companion, error)
}

// ChatSource serves the signed-in user's chats and collection.
type ChatSource interface {
	ListChats(ctx context.Context, token string) ([]domain.ChatSummary, error)
	ListCollection(ctx context.Context, token string) ([]domain.CollectionImage, error)
}

var (
	_ CompanionSource = (*upstream.ProfileService)(nil)
	_ ChatSource      = (*upstream.ChatService)(nil)
)

// Features are the frontend switches reported by /api/config.
type Features struct {
	OAuthProvider   string
	TelegramEnabled bool
}

// Handler provides common handler utilities.
type Handler struct {
	repo       store.Repository
	companions CompanionSource
	chats      ChatSource
	features   Features
	now        func() time.Time
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, companions CompanionSource, chats ChatSource, features Features) *Handler {
	return &Handler{
		repo:       repo,
		companions: companions,
		chats:      chats,
		features:   features,
		now:        time.Now,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// upstreamError maps a failed upstream call onto a response. Client errors
// from the service keep their status and message; anything else is a 502.
func upstreamError(w http.ResponseWriter, err error, what string) {
	var apiErr *upstream.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			msg := apiErr.Message
			if msg == "" {
				msg = http.StatusText(apiErr.StatusCode)
			}
			Error(w, apiErr.StatusCode, msg)
			return
		}
	}
	slog.Error("Upstream request failed", "error", err, "resource", what)
	Error(w, http.StatusBadGateway, "failed to load "+what)
}
