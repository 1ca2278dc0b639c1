package chatstart

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/companion-web/internal/domain"
)

type fakeAuth struct {
	mu            sync.Mutex
	authenticated bool
	signInModes   []SignInMode
}

func (f *fakeAuth) IsAuthenticated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *fakeAuth) OpenSignIn(mode SignInMode) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signInModes = append(f.signInModes, mode)
}

func (f *fakeAuth) signIns() []SignInMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SignInMode(nil), f.signInModes...)
}

// fakeTransport answers every call with resp/err. When release is non-nil
// each call blocks until a value is received from it.
type fakeTransport struct {
	mu      sync.Mutex
	calls   []string
	resp    *Response
	err     error
	panicV  any
	release chan struct{}
	started chan struct{}
}

func (f *fakeTransport) Initiate(ctx context.Context, companionID string) (*Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, companionID)
	release, started := f.release, f.started
	resp, err, panicV := f.resp, f.err, f.panicV
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if panicV != nil {
		panic(panicV)
	}
	return resp, err
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type notice struct {
	message string
	kind    NoticeKind
}

type fakeSurface struct {
	mu      sync.Mutex
	paths   []string
	notices []notice
}

func (f *fakeSurface) NavigateTo(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
}

func (f *fakeSurface) Show(message string, kind NoticeKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, notice{message: message, kind: kind})
}

func (f *fakeSurface) navigations() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeSurface) shown() []notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notice(nil), f.notices...)
}

type userMessageError struct{ msg string }

func (e *userMessageError) Error() string       { return "upstream: " + e.msg }
func (e *userMessageError) UserMessage() string { return e.msg }

func newTestGuard(auth *fakeAuth, transport *fakeTransport, surface *fakeSurface, opts ...Option) *Guard {
	return New(auth, transport, surface, surface, opts...)
}

func okResponse(status int, chatID string) *Response {
	return &Response{
		StatusCode: status,
		Data:       domain.ChatInitiationResult{ChatID: chatID, IsNewConnection: true},
	}
}

func TestStartChatAtMostOneInFlight(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{
		resp:    okResponse(http.StatusOK, "chat-1"),
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	<-transport.started

	for i := 0; i < 5; i++ {
		g.StartChat(context.Background(), "companion-b")
	}
	if !g.InFlight() {
		t.Fatal("expected guard to report an outstanding call")
	}
	if got := transport.callCount(); got != 1 {
		t.Fatalf("expected 1 transport call while in flight, got %d", got)
	}
	if n := len(surface.navigations()) + len(surface.shown()); n != 0 {
		t.Fatalf("expected no surface effects while in flight, got %d", n)
	}

	close(transport.release)
	g.Wait()

	if got := surface.navigations(); len(got) != 1 || got[0] != "/chat?chatId=chat-1" {
		t.Fatalf("unexpected navigations: %v", got)
	}
	if transport.calls[0] != "companion-a" {
		t.Fatalf("expected first trigger to reach transport, got %q", transport.calls[0])
	}
}

func TestStartChatUnauthenticatedOpensSignIn(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: false}
	transport := &fakeTransport{resp: okResponse(http.StatusOK, "chat-1")}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	g.Wait()

	if transport.callCount() != 0 {
		t.Fatalf("expected no transport call, got %d", transport.callCount())
	}
	modes := auth.signIns()
	if len(modes) != 1 || modes[0] != SignInEmail {
		t.Fatalf("expected one email-login sign-in, got %v", modes)
	}
	if len(surface.navigations()) != 0 || len(surface.shown()) != 0 {
		t.Fatal("expected no navigation or notice")
	}
}

func TestStartChatAuthCheckPrecedesInFlightCheck(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{
		resp:    okResponse(http.StatusOK, "chat-1"),
		release: make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	<-transport.started

	auth.mu.Lock()
	auth.authenticated = false
	auth.mu.Unlock()

	g.StartChat(context.Background(), "companion-a")
	if modes := auth.signIns(); len(modes) != 1 {
		t.Fatalf("expected sign-in while a call is in flight, got %v", modes)
	}

	close(transport.release)
	g.Wait()
	if transport.callCount() != 1 {
		t.Fatalf("expected 1 transport call, got %d", transport.callCount())
	}
}

func TestStartChatReleasesAfterSuccess(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{resp: okResponse(http.StatusCreated, "chat-1")}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	g.Wait()
	if g.InFlight() {
		t.Fatal("expected guard to be released")
	}

	g.StartChat(context.Background(), "companion-a")
	g.Wait()
	if transport.callCount() != 2 {
		t.Fatalf("expected 2 transport calls, got %d", transport.callCount())
	}
}

func TestStartChatReleasesAfterFailure(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{err: errors.New("boom")}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	g.Wait()
	g.StartChat(context.Background(), "companion-a")
	g.Wait()

	if transport.callCount() != 2 {
		t.Fatalf("expected 2 transport calls, got %d", transport.callCount())
	}
	if len(surface.shown()) != 2 {
		t.Fatalf("expected 2 error notices, got %d", len(surface.shown()))
	}
}

func TestStartChatNavigatesOnCreated(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{resp: okResponse(http.StatusCreated, "abc123")}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	g.Wait()

	paths := surface.navigations()
	if len(paths) != 1 || paths[0] != "/chat?chatId=abc123" {
		t.Fatalf("expected single navigation to /chat?chatId=abc123, got %v", paths)
	}
	if n := surface.shown(); len(n) != 0 {
		t.Fatalf("expected no notices, got %v", n)
	}
}

func TestStartChatResumedChatNavigatesTheSame(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{resp: &Response{
		StatusCode: http.StatusOK,
		Data:       domain.ChatInitiationResult{ChatID: "abc123", IsNewConnection: false},
	}}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	g.Wait()

	if paths := surface.navigations(); len(paths) != 1 || paths[0] != "/chat?chatId=abc123" {
		t.Fatalf("unexpected navigations: %v", paths)
	}
}

func TestStartChatUnexpectedStatus(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{resp: okResponse(http.StatusBadRequest, "abc123")}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	g.Wait()

	if paths := surface.navigations(); len(paths) != 0 {
		t.Fatalf("expected no navigation, got %v", paths)
	}
	notices := surface.shown()
	if len(notices) != 1 || notices[0].kind != NoticeError {
		t.Fatalf("expected one error notice, got %v", notices)
	}
	if notices[0].message != DefaultFailureMessage {
		t.Fatalf("unexpected message %q", notices[0].message)
	}
}

func TestStartChatFailureMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "carried message", err: &userMessageError{msg: "Network down"}, want: "Network down"},
		{name: "wrapped carried message", err: errorsJoin(&userMessageError{msg: "Network down"}), want: "Network down"},
		{name: "empty carried message", err: &userMessageError{}, want: DefaultFailureMessage},
		{name: "no message", err: errors.New("dial tcp: connection refused"), want: DefaultFailureMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			auth := &fakeAuth{authenticated: true}
			transport := &fakeTransport{err: tt.err}
			surface := &fakeSurface{}
			g := newTestGuard(auth, transport, surface)

			g.StartChat(context.Background(), "companion-a")
			g.Wait()

			notices := surface.shown()
			if len(notices) != 1 {
				t.Fatalf("expected one notice, got %v", notices)
			}
			if notices[0].message != tt.want || notices[0].kind != NoticeError {
				t.Fatalf("got %+v, want message %q kind error", notices[0], tt.want)
			}
			if len(surface.navigations()) != 0 {
				t.Fatal("expected no navigation")
			}
		})
	}
}

func errorsJoin(err error) error {
	return errors.Join(errors.New("initiate chat"), err)
}

func TestStartChatRecoversTransportPanic(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{panicV: "nil map"}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	g.Wait()

	if g.InFlight() {
		t.Fatal("expected guard to be released after panic")
	}
	notices := surface.shown()
	if len(notices) != 1 || notices[0].message != DefaultFailureMessage {
		t.Fatalf("unexpected notices: %v", notices)
	}
}

func TestStartChatNilResponse(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "companion-a")
	g.Wait()

	if notices := surface.shown(); len(notices) != 1 || notices[0].kind != NoticeError {
		t.Fatalf("unexpected notices: %v", notices)
	}
}

func TestStartChatEmptyCompanionID(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{resp: okResponse(http.StatusOK, "chat-1")}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface)

	g.StartChat(context.Background(), "")
	g.Wait()

	if transport.callCount() != 0 {
		t.Fatalf("expected no transport call, got %d", transport.callCount())
	}
	if notices := surface.shown(); len(notices) != 1 || notices[0].kind != NoticeError {
		t.Fatalf("unexpected notices: %v", notices)
	}
}

func TestStartChatTimeoutReleasesGuard(t *testing.T) {
	t.Parallel()

	auth := &fakeAuth{authenticated: true}
	transport := &fakeTransport{release: make(chan struct{})}
	surface := &fakeSurface{}
	g := newTestGuard(auth, transport, surface, WithTimeout(20*time.Millisecond))

	g.StartChat(context.Background(), "companion-a")
	g.Wait()

	if g.InFlight() {
		t.Fatal("expected guard to be released after timeout")
	}
	if notices := surface.shown(); len(notices) != 1 || notices[0].message != DefaultFailureMessage {
		t.Fatalf("unexpected notices: %v", notices)
	}
}

func TestChatPathEscapesID(t *testing.T) {
	if got := ChatPath("a b&c"); got != "/chat?chatId=a+b%26c" {
		t.Fatalf("unexpected path %q", got)
	}
}
