package upstream

import (
	"context"
	"net/http"
	"time"

	"github.com/ashureev/companion-web/internal/chatstart"
	"github.com/ashureev/companion-web/internal/domain"
)

// ChatService talks to the chat service.
type ChatService struct {
	client *Client
}

// NewChatService creates a chat service client.
func NewChatService(baseURL string, timeout time.Duration) (*ChatService, error) {
	c, err := NewClient(baseURL, timeout)
	if err != nil {
		return nil, err
	}
	return &ChatService{client: c}, nil
}

// InitiateChat creates or resumes the chat between the token's user and the
// companion. The status code is returned for any 2xx answer.
func (s *ChatService) InitiateChat(ctx context.Context, token, companionID string) (int, domain.ChatInitiationResult, error) {
	var envelope struct {
		Data domain.ChatInitiationResult `json:"data"`
	}
	status, err := s.client.do(ctx, request{
		method: http.MethodPost,
		path:   "/chats/initiate",
		token:  token,
		body:   map[string]string{"companionId": companionID},
	}, &envelope)
	if err != nil {
		return status, domain.ChatInitiationResult{}, err
	}
	return status, envelope.Data, nil
}

// chatListItem mirrors the chat service's list payload.
type chatListItem struct {
	ChatID        string    `json:"chatId"`
	CompanionID   string    `json:"companionId"`
	CompanionName string    `json:"companionName"`
	AvatarURL     string    `json:"avatarUrl"`
	LastMessage   string    `json:"lastMessage"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
}

// ListChats returns the user's chats, most recent first as sent by the service.
func (s *ChatService) ListChats(ctx context.Context, token string) ([]domain.ChatSummary, error) {
	var envelope struct {
		Data []chatListItem `json:"data"`
	}
	if _, err := s.client.do(ctx, request{
		method: http.MethodGet,
		path:   "/chats",
		token:  token,
	}, &envelope); err != nil {
		return nil, err
	}

	chats := make([]domain.ChatSummary, 0, len(envelope.Data))
	for _, item := range envelope.Data {
		chats = append(chats, domain.ChatSummary{
			ChatID:        item.ChatID,
			CompanionID:   item.CompanionID,
			CompanionName: item.CompanionName,
			AvatarURL:     item.AvatarURL,
			LastMessage:   item.LastMessage,
			LastMessageAt: item.LastMessageAt,
			UnreadCount:   item.UnreadCount,
		})
	}
	return chats, nil
}

// ListCollection returns the generated images saved by the user.
func (s *ChatService) ListCollection(ctx context.Context, token string) ([]domain.CollectionImage, error) {
	var envelope struct {
		Data []domain.CollectionImage `json:"data"`
	}
	if _, err := s.client.do(ctx, request{
		method: http.MethodGet,
		path:   "/collection",
		token:  token,
	}, &envelope); err != nil {
		return nil, err
	}
	if envelope.Data == nil {
		envelope.Data = []domain.CollectionImage{}
	}
	return envelope.Data, nil
}

// ChatTransport binds a chat service client and a user's token into a
// chatstart.Transport.
type ChatTransport struct {
	service *ChatService
	token   string
}

// NewChatTransport creates a transport acting on behalf of the token's user.
func NewChatTransport(service *ChatService, token string) *ChatTransport {
	return &ChatTransport{service: service, token: token}
}

// Initiate implements chatstart.Transport.
func (t *ChatTransport) Initiate(ctx context.Context, companionID string) (*chatstart.Response, error) {
	status, result, err := t.service.InitiateChat(ctx, t.token, companionID)
	if err != nil {
		return nil, err
	}
	return &chatstart.Response{StatusCode: status, Data: result}, nil
}

var _ chatstart.Transport = (*ChatTransport)(nil)
