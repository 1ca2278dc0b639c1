package surface

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/companion-web/internal/chatstart"
	"github.com/ashureev/companion-web/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	readLimit    = 4096
	writeTimeout = 5 * time.Second
	triggerBurst = 5
)

// SessionChecker re-validates a login session on each trigger.
type SessionChecker interface {
	Active(ctx context.Context, sessionID string) bool
}

// TransportFactory builds the chat transport for a surface from the
// session's upstream API token.
type TransportFactory func(upstreamToken string) chatstart.Transport

// Options tunes a Handler.
type Options struct {
	AllowedOrigin     string
	IsDev             bool
	TriggersPerMinute int
	ChatStartTimeout  time.Duration
}

// Handler upgrades UI surfaces to websockets and runs one chat-initiation
// guard per connection.
type Handler struct {
	sessions   SessionChecker
	transports TransportFactory
	sm         *Manager
	opts       Options
}

// NewHandler creates a surface handler.
func NewHandler(sessions SessionChecker, transports TransportFactory, sm *Manager, opts Options) *Handler {
	return &Handler{
		sessions:   sessions,
		transports: transports,
		sm:         sm,
		opts:       opts,
	}
}

// clientMessage is a message sent by the UI surface.
type clientMessage struct {
	Type        string `json:"type"`
	CompanionID string `json:"companion_id,omitempty"`
}

// event is a message pushed to the UI surface.
type event struct {
	Type    string `json:"type"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// ServeHTTP implements http.Handler for the websocket upgrade. Anonymous
// surfaces are accepted; their triggers open sign-in.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, signedIn := identity.FromContext(r.Context())
	surfaceID := uuid.NewString()
	logger := slog.Default().With("surface_id", surfaceID, "user_id", id.UserID, "session_id", id.SessionID)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Error("Failed to accept WebSocket", "error", err)
		return
	}
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	s := &uiSurface{
		ctx:      ctx,
		conn:     ws,
		id:       id,
		signedIn: signedIn,
		sessions: h.sessions,
		logger:   logger,
	}
	transport := &limitedTransport{
		next:    h.transports(id.UpstreamToken),
		limiter: newTriggerLimiter(h.opts.TriggersPerMinute),
	}
	guard := chatstart.New(s, transport, s, s,
		chatstart.WithLogger(logger),
		chatstart.WithTimeout(h.opts.ChatStartTimeout))

	if signedIn {
		h.sm.Register(id.UserID, id.SessionID, surfaceID, ws)
	}
	defer func() {
		if signedIn {
			h.sm.Unregister(id.SessionID, surfaceID)
		}
		cancel()
		guard.Wait()
		if closeErr := ws.Close(websocket.StatusNormalClosure, "surface closed"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
		logger.Info("UI surface disconnected")
	}()

	logger.Info("UI surface connected", "signed_in", signedIn, "ip", identity.IPFromRequest(r))
	h.readLoop(ctx, s, guard)
}

func (h *Handler) readLoop(ctx context.Context, s *uiSurface, guard *chatstart.Guard) {
	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				s.logger.Debug("WebSocket closed", "error", err)
			} else {
				s.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("Ignoring malformed surface message", "error", err)
			continue
		}

		switch msg.Type {
		case "start_chat":
			guard.StartChat(ctx, msg.CompanionID)
		case "ping":
			s.send(event{Type: "pong"})
		default:
			s.logger.Debug("Ignoring unknown surface message", "type", msg.Type)
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" || origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

// errChatStartRateLimited is returned by limitedTransport when the surface
// starts chats faster than allowed.
var errChatStartRateLimited = rateLimitedError{}

type rateLimitedError struct{}

func (rateLimitedError) Error() string { return "chat start rate limited" }

func (rateLimitedError) UserMessage() string {
	return "Too many chats started. Please wait a moment and try again."
}

// limitedTransport spends a token only when the guard actually calls the
// chat service, so sign-in prompts and triggers dropped while a call is in
// flight are never limited.
type limitedTransport struct {
	next    chatstart.Transport
	limiter *rate.Limiter
}

func (t *limitedTransport) Initiate(ctx context.Context, companionID string) (*chatstart.Response, error) {
	if !t.limiter.Allow() {
		return nil, errChatStartRateLimited
	}
	return t.next.Initiate(ctx, companionID)
}

func newTriggerLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60), min(triggerBurst, perMinute))
}

// uiSurface binds a connection to the guard's auth, navigation and notice
// collaborators.
type uiSurface struct {
	ctx      context.Context
	conn     *websocket.Conn
	id       identity.Identity
	signedIn bool
	sessions SessionChecker
	logger   *slog.Logger
}

func (s *uiSurface) IsAuthenticated() bool {
	return s.signedIn && s.sessions.Active(s.ctx, s.id.SessionID)
}

func (s *uiSurface) OpenSignIn(mode chatstart.SignInMode) {
	s.send(event{Type: "open_sign_in", Mode: string(mode)})
}

func (s *uiSurface) NavigateTo(path string) {
	s.send(event{Type: "navigate", Path: path})
}

func (s *uiSurface) Show(message string, kind chatstart.NoticeKind) {
	s.send(event{Type: "notify", Message: message, Kind: string(kind)})
}

func (s *uiSurface) send(ev event) {
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(ctx, s.conn, ev); err != nil {
		s.logger.Debug("Failed to send surface event", "type", ev.Type, "error", err)
	}
}
