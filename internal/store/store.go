// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/companion-web/internal/domain"
)

// Repository defines the interface for persisting users and browser sessions.
type Repository interface {
	// GetUser retrieves a user by their user ID. Returns nil, nil when absent.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// CreateSession stores a new browser session.
	CreateSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID, including revoked or expired ones.
	// Returns nil, nil when absent.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// TouchSession records activity on a session and the owning user.
	TouchSession(ctx context.Context, sessionID string, seen time.Time) error

	// RevokeSession marks a session as signed out.
	RevokeSession(ctx context.Context, sessionID string) error

	// DeleteExpiredSessions removes sessions that expired or were revoked
	// before now and returns them.
	DeleteExpiredSessions(ctx context.Context, now time.Time) ([]*domain.Session, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
