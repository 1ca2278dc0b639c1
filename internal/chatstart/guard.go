// Package chatstart turns "start chat with companion X" triggers from a UI
// surface into at most one in-flight chat-initiation request, and routes the
// outcome back to the surface as a navigation, a notice, or a sign-in prompt.
package chatstart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ashureev/companion-web/internal/domain"
)

// DefaultFailureMessage is shown when a failure carries no message of its own.
const DefaultFailureMessage = "Failed to start chat. Please try again."

// ChatRoute is the path of the chat view; the chat id is passed as the
// chatId query parameter.
const ChatRoute = "/chat"

// NoticeKind categorizes a transient notification.
type NoticeKind string

const (
	NoticeError   NoticeKind = "error"
	NoticeInfo    NoticeKind = "info"
	NoticeSuccess NoticeKind = "success"
)

// SignInMode selects which sign-in surface is opened.
type SignInMode string

// SignInEmail opens the sign-in surface in email-login mode.
const SignInEmail SignInMode = "email-login"

// Auth exposes the externally owned authentication state.
type Auth interface {
	IsAuthenticated() bool
	OpenSignIn(mode SignInMode)
}

// Response is what a transport returns when the call itself succeeded.
type Response struct {
	StatusCode int
	Data       domain.ChatInitiationResult
}

// Transport performs the chat-initiation network call.
type Transport interface {
	Initiate(ctx context.Context, companionID string) (*Response, error)
}

// Navigator moves the user to another page.
type Navigator interface {
	NavigateTo(path string)
}

// Notifier shows a transient message.
type Notifier interface {
	Show(message string, kind NoticeKind)
}

// UserMessager is implemented by errors that carry a message meant for
// the user.
type UserMessager interface {
	UserMessage() string
}

// Option configures a Guard.
type Option func(*Guard)

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Guard) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithTimeout bounds each transport call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(g *Guard) {
		g.timeout = d
	}
}

// Guard mediates chat initiation for one UI surface.
// At most one transport call is outstanding per Guard.
type Guard struct {
	auth      Auth
	transport Transport
	nav       Navigator
	notifier  Notifier
	logger    *slog.Logger
	timeout   time.Duration

	inFlight sync.Mutex // held while a transport call is outstanding
	wg       sync.WaitGroup
}

// New creates a Guard for a single UI surface.
func New(auth Auth, transport Transport, nav Navigator, notifier Notifier, opts ...Option) *Guard {
	g := &Guard{
		auth:      auth,
		transport: transport,
		nav:       nav,
		notifier:  notifier,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// StartChat ensures a chat with the companion exists and routes the user to
// it. It does not wait for the network call: the auth and in-flight checks
// run synchronously, so triggers are handled in the order they arrive, and
// the transport call runs in the background.
//
// Unauthenticated callers are sent to sign-in. A trigger arriving while a
// call is outstanding is dropped without any side effect.
func (g *Guard) StartChat(ctx context.Context, companionID string) {
	if !g.auth.IsAuthenticated() {
		g.auth.OpenSignIn(SignInEmail)
		return
	}
	if !g.inFlight.TryLock() {
		g.logger.Debug("Chat start already in progress", "companion_id", companionID)
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.inFlight.Unlock()
		g.initiate(ctx, companionID)
	}()
}

// Wait blocks until the outstanding transport call, if any, has been handled.
func (g *Guard) Wait() {
	g.wg.Wait()
}

// InFlight reports whether a transport call is outstanding.
func (g *Guard) InFlight() bool {
	if g.inFlight.TryLock() {
		g.inFlight.Unlock()
		return false
	}
	return true
}

func (g *Guard) initiate(ctx context.Context, companionID string) {
	if companionID == "" {
		g.logger.Warn("Chat start requested without companion id")
		g.notifier.Show(DefaultFailureMessage, NoticeError)
		return
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := g.call(ctx, companionID)
	if err != nil {
		g.logger.Error("Failed to start chat", "companion_id", companionID, "error", err)
		g.notifier.Show(FailureMessage(err), NoticeError)
		return
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		g.logger.Info("Chat ready",
			"companion_id", companionID,
			"chat_id", resp.Data.ChatID,
			"new_connection", resp.Data.IsNewConnection)
		g.nav.NavigateTo(ChatPath(resp.Data.ChatID))
	default:
		g.logger.Warn("Unexpected chat start status", "companion_id", companionID, "status", resp.StatusCode)
		g.notifier.Show(DefaultFailureMessage, NoticeError)
	}
}

// call invokes the transport, converting a panic or an empty response into
// an error so the guard never unwinds into its caller.
func (g *Guard) call(ctx context.Context, companionID string) (resp *Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = fmt.Errorf("chat transport panic: %v", r)
		}
	}()

	resp, err = g.transport.Initiate(ctx, companionID)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("chat transport returned no response")
	}
	return resp, nil
}

// ChatPath returns the chat view path for a chat id.
func ChatPath(chatID string) string {
	return ChatRoute + "?chatId=" + url.QueryEscape(chatID)
}

// FailureMessage extracts the user-facing message from err, falling back to
// DefaultFailureMessage.
func FailureMessage(err error) string {
	var um UserMessager
	if errors.As(err, &um) {
		if msg := um.UserMessage(); msg != "" {
			return msg
		}
	}
	return DefaultFailureMessage
}
