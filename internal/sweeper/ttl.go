// Package sweeper removes expired and revoked login sessions in the background.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/companion-web/internal/domain"
	"github.com/ashureev/companion-web/internal/store"
)

// CleanupCallback is called for each session removed by the sweeper.
type CleanupCallback func(session *domain.Session)

// Start runs a background goroutine that sweeps sessions every interval
// until ctx is done.
func Start(ctx context.Context, repo store.Repository, interval time.Duration, onCleanup CleanupCallback) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				Sweep(ctx, repo, time.Now(), onCleanup)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Sweep deletes sessions that expired or were revoked as of now and returns
// how many were removed.
func Sweep(ctx context.Context, repo store.Repository, now time.Time, onCleanup CleanupCallback) int {
	removed, err := repo.DeleteExpiredSessions(ctx, now)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Session sweep interrupted", "error", err)
			return 0
		}
		slog.Error("Session sweeper failed to delete expired sessions", "error", err)
		return 0
	}
	if len(removed) == 0 {
		return 0
	}

	for _, session := range removed {
		slog.Info("Session sweeper removed session",
			"session_id", session.SessionID,
			"user_id", session.UserID,
			"revoked", session.RevokedAt != nil)
		if onCleanup != nil {
			onCleanup(session)
		}
	}

	slog.Info("Session sweep completed", "cleaned", len(removed))
	return len(removed)
}
