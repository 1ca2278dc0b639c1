// Package auth implements the sign-in surfaces: OAuth authorization-code
// sign-in, Telegram mini-app auto-login, and sign-out.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/companion-web/internal/chatstart"
	"github.com/ashureev/companion-web/internal/config"
	"github.com/ashureev/companion-web/internal/domain"
	"github.com/ashureev/companion-web/internal/identity"
	"github.com/ashureev/companion-web/internal/store"
	"github.com/ashureev/companion-web/internal/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	stateCookieName = "companion_oauth_state"
	stateMaxAge     = 10 * time.Minute
	// maxRequestBodySize bounds sign-in request bodies.
	maxRequestBodySize = 16 << 10
)

// Exchanger trades a verified identity for an upstream API grant.
type Exchanger interface {
	ExchangeOAuth(ctx context.Context, provider, accessToken string, profile upstream.OAuthProfile) (*upstream.Grant, error)
	ExchangeTelegram(ctx context.Context, initData string) (*upstream.Grant, error)
}

// SessionCloser is notified when a session signs out.
type SessionCloser interface {
	CloseSession(sessionID string)
}

var _ Exchanger = (*upstream.AuthService)(nil)

// Handler serves the /auth routes.
type Handler struct {
	repo        store.Repository
	tokens      *identity.Tokens
	exchanger   Exchanger
	oauth       *OAuthProvider
	telegram    config.TelegramConfig
	sessionTTL  time.Duration
	secure      bool
	frontendURL string
	closer      SessionCloser
	now         func() time.Time
}

// NewHandler creates the auth handler. OAuth routes are only served when
// the provider is configured; likewise for Telegram.
func NewHandler(repo store.Repository, tokens *identity.Tokens, exchanger Exchanger, cfg *config.Config) *Handler {
	h := &Handler{
		repo:        repo,
		tokens:      tokens,
		exchanger:   exchanger,
		telegram:    cfg.Telegram,
		sessionTTL:  cfg.SessionTTL,
		secure:      cfg.CookieSecure,
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		now:         time.Now,
	}
	if cfg.OAuth.Enabled() {
		h.oauth = NewOAuthProvider(cfg.OAuth)
	}
	return h
}

// SetSessionCloser sets the hook run on sign-out.
func (h *Handler) SetSessionCloser(c SessionCloser) {
	h.closer = c
}

// ProviderName returns the configured OAuth provider, or "" when disabled.
func (h *Handler) ProviderName() string {
	if h.oauth == nil {
		return ""
	}
	return h.oauth.Name()
}

// RegisterRoutes registers auth routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		if h.oauth != nil {
			r.Get("/"+h.oauth.Name()+"/login", h.Login)
			r.Get("/"+h.oauth.Name()+"/callback", h.Callback)
		}
		if h.telegram.Enabled() {
			r.Post("/telegram", h.Telegram)
		}
		r.Post("/logout", h.Logout)
	})
}

// Login redirects to the OAuth provider's consent page.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		slog.Error("Failed to generate oauth state", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start sign-in")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(stateMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.secure,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the OAuth flow and signs the user in.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/auth", MaxAge: -1})

	c, err := r.Cookie(stateCookieName)
	if err != nil || c.Value == "" || c.Value != r.URL.Query().Get("state") {
		slog.Warn("OAuth state mismatch", "ip", identity.IPFromRequest(r))
		h.redirectSignInFailed(w, r, "state_mismatch")
		return
	}
	if providerErr := r.URL.Query().Get("error"); providerErr != "" {
		slog.Info("OAuth provider denied sign-in", "error", providerErr)
		h.redirectSignInFailed(w, r, "denied")
		return
	}

	ctx := r.Context()
	token, profile, err := h.oauth.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		slog.Error("OAuth exchange failed", "error", err, "provider", h.oauth.Name())
		h.redirectSignInFailed(w, r, "oauth_failed")
		return
	}

	grant, err := h.exchanger.ExchangeOAuth(ctx, h.oauth.Name(), token.AccessToken, *profile)
	if err != nil {
		slog.Error("Auth service rejected OAuth sign-in", "error", err, "provider", h.oauth.Name())
		h.redirectSignInFailed(w, r, "auth_failed")
		return
	}

	if _, _, err := h.signIn(ctx, w, grant, h.oauth.Name(), profile.Subject); err != nil {
		slog.Error("Failed to create session", "error", err)
		h.redirectSignInFailed(w, r, "session_failed")
		return
	}

	http.Redirect(w, r, h.frontendURL+"/", http.StatusFound)
}

type telegramRequest struct {
	InitData string `json:"init_data"`
}

// Telegram signs in a mini-app user from its init data.
func (h *Handler) Telegram(w http.ResponseWriter, r *http.Request) {
	var req telegramRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize)).Decode(&req); err != nil || req.InitData == "" {
		writeError(w, http.StatusBadRequest, "init_data is required")
		return
	}

	tgUser, err := VerifyInitData(req.InitData, h.telegram.BotToken, h.telegram.MaxAge, h.now())
	if err != nil {
		slog.Warn("Rejected telegram init data", "error", err, "ip", identity.IPFromRequest(r))
		writeError(w, http.StatusUnauthorized, "invalid telegram init data")
		return
	}

	ctx := r.Context()
	grant, err := h.exchanger.ExchangeTelegram(ctx, req.InitData)
	if err != nil {
		slog.Error("Auth service rejected telegram sign-in", "error", err, "telegram_id", tgUser.ID)
		status := http.StatusBadGateway
		if upstream.IsStatus(err, http.StatusUnauthorized) || upstream.IsStatus(err, http.StatusForbidden) {
			status = http.StatusUnauthorized
		}
		writeError(w, status, "telegram sign-in failed")
		return
	}
	if grant.Account.DisplayName == "" {
		grant.Account.DisplayName = tgUser.DisplayName()
	}
	if grant.Account.AvatarURL == "" {
		grant.Account.AvatarURL = tgUser.PhotoURL
	}

	token, session, err := h.signIn(ctx, w, grant, domain.ProviderTelegram, strconv.FormatInt(tgUser.ID, 10))
	if err != nil {
		slog.Error("Failed to create session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": session.ExpiresAt.UTC().Format(time.RFC3339),
		"expires_in": int64(session.Remaining(h.now()).Seconds()),
		"user": map[string]string{
			"user_id":      grant.Account.ID,
			"display_name": grant.Account.DisplayName,
			"avatar_url":   grant.Account.AvatarURL,
		},
	})
}

// Logout revokes the current session and closes its UI surfaces.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity.ClearSessionCookie(w, h.secure)

	id, ok := identity.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
		return
	}

	if err := h.repo.RevokeSession(r.Context(), id.SessionID); err != nil {
		slog.Error("Failed to revoke session", "error", err, "session_id", id.SessionID)
		writeError(w, http.StatusInternalServerError, "failed to sign out")
		return
	}
	if h.closer != nil {
		h.closer.CloseSession(id.SessionID)
	}

	slog.Info("User signed out", "user_id", id.UserID, "session_id", id.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
}

// signIn records the account, opens a session and sets the session cookie.
func (h *Handler) signIn(ctx context.Context, w http.ResponseWriter, grant *upstream.Grant, provider, externalID string) (string, *domain.Session, error) {
	now := h.now()

	user, err := h.repo.GetUser(ctx, grant.Account.ID)
	if err != nil {
		return "", nil, err
	}
	createdAt := now
	if user != nil {
		createdAt = user.CreatedAt
	}
	if err := h.repo.UpsertUser(ctx, &domain.User{
		UserID:      grant.Account.ID,
		DisplayName: grant.Account.DisplayName,
		Email:       grant.Account.Email,
		AvatarURL:   grant.Account.AvatarURL,
		Provider:    provider,
		ExternalID:  externalID,
		LastSeenAt:  now,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}); err != nil {
		return "", nil, err
	}

	session := &domain.Session{
		SessionID:     uuid.NewString(),
		UserID:        grant.Account.ID,
		UpstreamToken: grant.Token,
		CreatedAt:     now,
		LastSeenAt:    now,
		ExpiresAt:     now.Add(h.sessionTTL),
	}
	if err := h.repo.CreateSession(ctx, session); err != nil {
		return "", nil, err
	}

	token, err := h.tokens.Issue(session.UserID, session.SessionID, session.ExpiresAt)
	if err != nil {
		return "", nil, err
	}
	identity.SetSessionCookie(w, token, session.ExpiresAt, h.secure)

	slog.Info("User signed in", "user_id", session.UserID, "session_id", session.SessionID, "provider", provider)
	return token, session, nil
}

// redirectSignInFailed sends the browser back to the frontend with the
// sign-in surface open in email-login mode.
func (h *Handler) redirectSignInFailed(w http.ResponseWriter, r *http.Request, reason string) {
	q := url.Values{}
	q.Set("signin", string(chatstart.SignInEmail))
	q.Set("error", reason)
	http.Redirect(w, r, h.frontendURL+"/?"+q.Encode(), http.StatusFound)
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to encode auth response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
