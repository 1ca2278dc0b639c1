// Package identity resolves the signed-in user behind a request.
package identity

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/companion-web/internal/domain"
	"github.com/ashureev/companion-web/internal/store"
)

const (
	SessionCookieName = "companion_session"
	// touchInterval limits how often request activity is written back.
	touchInterval = time.Minute
)

type contextKey int

const identityKey contextKey = iota

// Identity describes an authenticated request.
type Identity struct {
	UserID        string
	SessionID     string
	UpstreamToken string
	ExpiresAt     time.Time
}

// FromContext returns the request identity, if the request is authenticated.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// TokenFromRequest reads the session token from the cookie, or from a bearer
// Authorization header for webviews that drop third-party cookies.
func TokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// Resolver turns session tokens into identities.
type Resolver struct {
	repo   store.Repository
	tokens *Tokens
	now    func() time.Time
}

// NewResolver creates a resolver backed by the session store.
func NewResolver(repo store.Repository, tokens *Tokens) *Resolver {
	return &Resolver{repo: repo, tokens: tokens, now: time.Now}
}

// Resolve validates the token and its server-side session. It returns
// false for any token that does not map to an active session.
func (res *Resolver) Resolve(ctx context.Context, token string) (Identity, *domain.Session, bool) {
	if token == "" {
		return Identity{}, nil, false
	}
	claims, err := res.tokens.Parse(token)
	if err != nil {
		slog.Debug("Rejected session token", "error", err)
		return Identity{}, nil, false
	}

	session, err := res.repo.GetSession(ctx, claims.SessionID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "session_id", claims.SessionID)
		return Identity{}, nil, false
	}
	if !session.Active(res.now()) || session.UserID != claims.Subject {
		return Identity{}, nil, false
	}

	return Identity{
		UserID:        session.UserID,
		SessionID:     session.SessionID,
		UpstreamToken: session.UpstreamToken,
		ExpiresAt:     session.ExpiresAt,
	}, session, true
}

// Active reports whether the session is still signed in.
func (res *Resolver) Active(ctx context.Context, sessionID string) bool {
	session, err := res.repo.GetSession(ctx, sessionID)
	if err != nil {
		slog.Error("Failed to load session", "error", err, "session_id", sessionID)
		return false
	}
	return session.Active(res.now())
}

// Middleware attaches the identity of signed-in requests. Anonymous requests
// pass through unchanged.
func Middleware(res *Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, session, ok := res.Resolve(r.Context(), TokenFromRequest(r))
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			if now := res.now(); now.Sub(session.LastSeenAt) > touchInterval {
				// Update last seen asynchronously with timeout.
				go func() {
					updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := res.repo.TouchSession(updateCtx, id.SessionID, now); err != nil {
						slog.Warn("Failed to update last seen", "error", err, "session_id", id.SessionID)
					}
				}()
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetSessionCookie stores the session token in the browser.
func SetSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// ClearSessionCookie removes the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
}

// IPFromRequest returns a normalized remote IP for rate limiting and tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
