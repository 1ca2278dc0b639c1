package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ashureev/companion-web/internal/domain"
)

// ProfileService talks to the bot-profile service that owns the companion catalog.
type ProfileService struct {
	client *Client
}

// NewProfileService creates a bot-profile service client.
func NewProfileService(baseURL string, timeout time.Duration) (*ProfileService, error) {
	c, err := NewClient(baseURL, timeout)
	if err != nil {
		return nil, err
	}
	return &ProfileService{client: c}, nil
}

// CompanionQuery filters the catalog. Zero values are omitted.
type CompanionQuery struct {
	Category string
	Page     int
	Limit    int
}

func (q CompanionQuery) values() url.Values {
	v := url.Values{}
	if q.Category != "" {
		v.Set("category", q.Category)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// ListCompanions returns one page of the catalog.
func (s *ProfileService) ListCompanions(ctx context.Context, q CompanionQuery) ([]domain.Companion, error) {
	var envelope struct {
		Data []domain.Companion `json:"data"`
	}
	if _, err := s.client.do(ctx, request{
		method: http.MethodGet,
		path:   "/companions",
		query:  q.values(),
	}, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		envelope.Data = []domain.Companion{}
	}
	return envelope.Data, nil
}

// GetCompanion returns one companion profile.
func (s *ProfileService) GetCompanion(ctx context.Context, id string) (*domain.Companion, error) {
	var envelope struct {
		Data domain.Companion `json:"data"`
	}
	if _, err := s.client.do(ctx, request{
		method: http.MethodGet,
		path:   "/companions/" + url.PathEscape(id),
	}, &envelope); err != nil {
		return nil, err
	}
	return &envelope.Data, nil
}
