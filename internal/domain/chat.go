package domain

import "time"

// ChatInitiationResult is the payload returned when a chat is created or
// resumed for a companion. IsNewConnection is informational only.
type ChatInitiationResult struct {
	ChatID          string `json:"chatId"`
	IsNewConnection bool   `json:"isNewConnection"`
}

// ChatSummary is one entry of the user's chat list.
type ChatSummary struct {
	ChatID        string    `json:"chat_id"`
	CompanionID   string    `json:"companion_id"`
	CompanionName string    `json:"companion_name"`
	AvatarURL     string    `json:"avatar_url,omitempty"`
	LastMessage   string    `json:"last_message,omitempty"`
	LastMessageAt time.Time `json:"last_message_at"`
	UnreadCount   int       `json:"unread_count"`
	DisplayTime   string    `json:"display_time"`
}
