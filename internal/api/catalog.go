package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/companion-web/internal/chatfmt"
	"github.com/ashureev/companion-web/internal/identity"
	"github.com/ashureev/companion-web/internal/upstream"
	"github.com/go-chi/chi/v5"
)

const maxPageLimit = 100

// ListCompanions returns a page of the companion catalog.
func (h *Handler) ListCompanions(w http.ResponseWriter, r *http.Request) {
	q := upstream.CompanionQuery{
		Category: strings.TrimSpace(r.URL.Query().Get("category")),
	}
	var ok bool
	if q.Page, ok = positiveParam(r, "page"); !ok {
		Error(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	if q.Limit, ok = positiveParam(r, "limit"); !ok {
		Error(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	q.Limit = min(q.Limit, maxPageLimit)

	companions, err := h.companions.ListCompanions(r.Context(), q)
	if err != nil {
		upstreamError(w, err, "companions")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"companions": companions})
}

// GetCompanion returns one companion profile.
func (h *Handler) GetCompanion(w http.ResponseWriter, r *http.Request) {
	companion, err := h.companions.GetCompanion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		upstreamError(w, err, "companion")
		return
	}
	JSON(w, http.StatusOK, companion)
}

// ListChats returns the user's chats with a display time for each.
func (h *Handler) ListChats(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())

	chats, err := h.chats.ListChats(r.Context(), id.UpstreamToken)
	if err != nil {
		upstreamError(w, err, "chats")
		return
	}

	now := h.now()
	if tz := r.URL.Query().Get("tz"); tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			now = now.In(loc)
		}
	}
	for i := range chats {
		chats[i].DisplayTime = chatfmt.FormatChatTime(chats[i].LastMessageAt, now)
	}
	JSON(w, http.StatusOK, map[string]interface{}{"chats": chats})
}

type collectionItem struct {
	ID            string `json:"id"`
	CompanionID   string `json:"companion_id"`
	CompanionName string `json:"companion_name,omitempty"`
	URL           string `json:"url"`
	PreviewURL    string `json:"preview_url"`
	CreatedAt     string `json:"created_at,omitempty"`
}

// ListCollection returns the user's saved images.
func (h *Handler) ListCollection(w http.ResponseWriter, r *http.Request) {
	id, _ := identity.FromContext(r.Context())

	images, err := h.chats.ListCollection(r.Context(), id.UpstreamToken)
	if err != nil {
		upstreamError(w, err, "collection")
		return
	}

	items := make([]collectionItem, 0, len(images))
	for _, img := range images {
		items = append(items, collectionItem{
			ID:            img.ID,
			CompanionID:   img.CompanionID,
			CompanionName: img.CompanionName,
			URL:           img.URL,
			PreviewURL:    img.PreviewURL(),
			CreatedAt:     img.CreatedAt,
		})
	}
	JSON(w, http.StatusOK, map[string]interface{}{"images": items})
}

// positiveParam reads an optional positive integer query parameter.
func positiveParam(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
