// Package domain contains core domain types for the companion web app.
package domain

import (
	"time"
)

// User represents a signed-in account as known to the web app.
type User struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Provider    string    `json:"provider"`
	ExternalID  string    `json:"-"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sign-in providers recorded on User.Provider.
const (
	ProviderTelegram = "telegram"
)
