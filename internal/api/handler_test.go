//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/companion-web/internal/domain"
	"github.com/ashureev/companion-web/internal/identity"
	"github.com/ashureev/companion-web/internal/store"
	"github.com/ashureev/companion-web/internal/upstream"
	"github.com/go-chi/chi/v5"
)

type fakeCompanions struct {
	lastQuery upstream.CompanionQuery
	err       error
}

func (f *fakeCompanions) ListCompanions(_ context.Context, q upstream.CompanionQuery) ([]domain.Companion, error) {
	f.lastQuery = q
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Companion{{ID: "c1", Name: "Luna"}}, nil
}

func (f *fakeCompanions) GetCompanion(_ context.Context, id string) (*domain.Companion, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Companion{ID: id, Name: "Luna"}, nil
}

type fakeChats struct {
	token string
	chats []domain.ChatSummary
}

func (f *fakeChats) ListChats(_ context.Context, token string) ([]domain.ChatSummary, error) {
	f.token = token
	return f.chats, nil
}

func (f *fakeChats) ListCollection(_ context.Context, token string) ([]domain.CollectionImage, error) {
	f.token = token
	return []domain.CollectionImage{
		{ID: "i1", URL: "https://cdn.example/i1.png", ThumbnailURL: "https://cdn.example/i1_t.png"},
		{ID: "i2", URL: "https://cdn.example/i2.png"},
	}, nil
}

type pingFailRepo struct {
	store.Repository
}

func (pingFailRepo) Ping(context.Context) error { return errors.New("disk gone") }

func newTestRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

func signedInRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(identity.WithIdentity(req.Context(), identity.Identity{
		UserID:        "user-1",
		SessionID:     "sess-1",
		UpstreamToken: "api-token",
		ExpiresAt:     time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestGetConfig(t *testing.T) {
	h := NewHandler(newTestRepo(t), &fakeCompanions{}, &fakeChats{}, Features{OAuthProvider: "google", TelegramEnabled: true})

	rr := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/config", nil))

	var got map[string]interface{}
	decodeBody(t, rr, &got)
	if got["oauth_provider"] != "google" || got["telegram_enabled"] != true {
		t.Fatalf("unexpected config %v", got)
	}
}

func TestGetMe(t *testing.T) {
	repo := newTestRepo(t)
	now := time.Now()
	if err := repo.UpsertUser(context.Background(), &domain.User{
		UserID: "user-1", DisplayName: "Ada", Provider: "google",
		LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}
	router := newTestRouter(NewHandler(repo, &fakeCompanions{}, &fakeChats{}, Features{}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for anonymous /api/me, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, signedInRequest(http.MethodGet, "/api/me"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got struct {
		User domain.User `json:"user"`
	}
	decodeBody(t, rr, &got)
	if got.User.DisplayName != "Ada" {
		t.Fatalf("unexpected user %+v", got.User)
	}
}

func TestListCompanionsQuery(t *testing.T) {
	companions := &fakeCompanions{}
	router := newTestRouter(NewHandler(newTestRepo(t), companions, &fakeChats{}, Features{}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/companions?category=anime&page=2&limit=500", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	want := upstream.CompanionQuery{Category: "anime", Page: 2, Limit: maxPageLimit}
	if companions.lastQuery != want {
		t.Fatalf("expected query %+v, got %+v", want, companions.lastQuery)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/companions?page=zero", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad page, got %d", rr.Code)
	}
}

func TestGetCompanionUpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "not found passes through", err: &upstream.APIError{StatusCode: http.StatusNotFound}, wantStatus: http.StatusNotFound},
		{name: "server error is bad gateway", err: &upstream.APIError{StatusCode: http.StatusInternalServerError}, wantStatus: http.StatusBadGateway},
		{name: "network error is bad gateway", err: errors.New("dial tcp: refused"), wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(NewHandler(newTestRepo(t), &fakeCompanions{err: tt.err}, &fakeChats{}, Features{}))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/companions/c1", nil))
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestListChatsDisplayTime(t *testing.T) {
	now := time.Date(2026, 3, 12, 18, 30, 0, 0, time.UTC)
	chats := &fakeChats{chats: []domain.ChatSummary{
		{ChatID: "a", LastMessageAt: now.Add(-time.Hour)},
		{ChatID: "b", LastMessageAt: now.Add(-24 * time.Hour)},
	}}
	h := NewHandler(newTestRepo(t), &fakeCompanions{}, chats, Features{})
	h.now = func() time.Time { return now }

	rr := httptest.NewRecorder()
	newTestRouter(h).ServeHTTP(rr, signedInRequest(http.MethodGet, "/api/chats"))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if chats.token != "api-token" {
		t.Fatalf("expected upstream token to be forwarded, got %q", chats.token)
	}

	var got struct {
		Chats []domain.ChatSummary `json:"chats"`
	}
	decodeBody(t, rr, &got)
	if len(got.Chats) != 2 || got.Chats[0].DisplayTime != "17:30" || got.Chats[1].DisplayTime != "Yesterday" {
		t.Fatalf("unexpected chats %+v", got.Chats)
	}
}

func TestListCollectionPreview(t *testing.T) {
	router := newTestRouter(NewHandler(newTestRepo(t), &fakeCompanions{}, &fakeChats{}, Features{}))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, signedInRequest(http.MethodGet, "/api/collection"))

	var got struct {
		Images []collectionItem `json:"images"`
	}
	decodeBody(t, rr, &got)
	if len(got.Images) != 2 {
		t.Fatalf("expected 2 images, got %d", len(got.Images))
	}
	if got.Images[0].PreviewURL != "https://cdn.example/i1_t.png" || got.Images[1].PreviewURL != "https://cdn.example/i2.png" {
		t.Fatalf("unexpected previews %+v", got.Images)
	}
}

func TestHealth(t *testing.T) {
	repo := newTestRepo(t)

	rr := httptest.NewRecorder()
	NewHealthHandler(repo).Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	NewHealthHandler(pingFailRepo{repo}).Health(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var got struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeBody(t, rr, &got)
	if got.Status != "degraded" || got.Checks["database"] != "unreachable" {
		t.Fatalf("unexpected health body %+v", got)
	}
}
