package upstream

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// AuthService talks to the auth service, which turns a verified identity
// into an account and an API token for the chat and profile services.
type AuthService struct {
	client *Client
}

// NewAuthService creates an auth service client.
func NewAuthService(baseURL string, timeout time.Duration) (*AuthService, error) {
	c, err := NewClient(baseURL, timeout)
	if err != nil {
		return nil, err
	}
	return &AuthService{client: c}, nil
}

// Account is the auth service's view of a user.
type Account struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Grant is the result of a successful exchange.
type Grant struct {
	Token   string  `json:"token"`
	Account Account `json:"user"`
}

// OAuthProfile is the identity read from the OAuth provider's userinfo endpoint.
type OAuthProfile struct {
	Subject   string `json:"sub"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"picture,omitempty"`
}

var errEmptyGrant = errors.New("auth service returned an empty grant")

// ExchangeOAuth trades a provider access token for an API grant.
func (s *AuthService) ExchangeOAuth(ctx context.Context, provider, accessToken string, profile OAuthProfile) (*Grant, error) {
	var grant Grant
	if _, err := s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/oauth",
		body: map[string]any{
			"provider":    provider,
			"accessToken": accessToken,
			"profile":     profile,
		},
	}, &grant); err != nil {
		return nil, err
	}
	if grant.Token == "" || grant.Account.ID == "" {
		return nil, errEmptyGrant
	}
	return &grant, nil
}

// ExchangeTelegram trades verified Telegram mini-app init data for an API grant.
func (s *AuthService) ExchangeTelegram(ctx context.Context, initData string) (*Grant, error) {
	var grant Grant
	if _, err := s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/auth/telegram",
		body:   map[string]string{"initData": initData},
	}, &grant); err != nil {
		return nil, err
	}
	if grant.Token == "" || grant.Account.ID == "" {
		return nil, errEmptyGrant
	}
	return &grant, nil
}
