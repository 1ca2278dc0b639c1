package web

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func TestSPAHandler(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"index.html":    {Data: []byte("<div id=root></div>")},
		"assets/app.js": {Data: []byte("console.log(1)")},
	}
	h := spaHandler(fsys)

	tests := []struct {
		name      string
		target    string
		wantBody  string
		wantCache string
	}{
		{name: "root", target: "/", wantBody: "<div id=root>"},
		{name: "asset", target: "/assets/app.js", wantBody: "console.log", wantCache: "public, max-age=31536000, immutable"},
		{name: "client route", target: "/chat?chatId=abc", wantBody: "<div id=root>", wantCache: "no-cache"},
		{name: "directory", target: "/assets/", wantBody: "<div id=root>", wantCache: "no-cache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.target, nil))

			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rr.Code)
			}
			body, _ := io.ReadAll(rr.Body)
			if !strings.Contains(string(body), tt.wantBody) {
				t.Fatalf("expected body containing %q, got %q", tt.wantBody, body)
			}
			if got := rr.Header().Get("Cache-Control"); got != tt.wantCache {
				t.Fatalf("Cache-Control = %q, want %q", got, tt.wantCache)
			}
		})
	}
}

func TestSPAHandlerEmbedded(t *testing.T) {
	t.Parallel()

	rr := httptest.NewRecorder()
	SPAHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected embedded index, got %d", rr.Code)
	}
}
