package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/companion-web/internal/domain"
	"github.com/ashureev/companion-web/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		email TEXT,
		avatar_url TEXT,
		provider TEXT NOT NULL,
		external_id TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
		upstream_token TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		revoked_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, display_name, email, avatar_url, provider, external_id,
		       last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var email, avatarURL, externalID sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&user.UserID, &user.DisplayName, &email, &avatarURL, &user.Provider, &externalID,
		&lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.Email = email.String
	user.AvatarURL = avatarURL.String
	user.ExternalID = externalID.String
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record. CreatedAt is kept from the
// first insert.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, display_name, email, avatar_url, provider, external_id,
	                   last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		display_name = excluded.display_name,
		email = excluded.email,
		avatar_url = excluded.avatar_url,
		provider = excluded.provider,
		external_id = excluded.external_id,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "upsert_user", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			user.UserID, user.DisplayName, nullString(user.Email), nullString(user.AvatarURL),
			user.Provider, nullString(user.ExternalID),
			user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert user: %w", err)
		}
		return nil
	})
}

// CreateSession stores a new browser session.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	query := `
	INSERT INTO sessions (session_id, user_id, upstream_token, created_at, last_seen_at, expires_at)
	VALUES (?, ?, ?, ?, ?, ?)`

	return shared.RetryOnConflict(ctx, s.retry, "create_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, query,
			session.SessionID, session.UserID, session.UpstreamToken,
			session.CreatedAt.Unix(), session.LastSeenAt.Unix(), session.ExpiresAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		return nil
	})
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	query := `
		SELECT session_id, user_id, upstream_token, created_at, last_seen_at, expires_at, revoked_at
		FROM sessions WHERE session_id = ?`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}
	return session, nil
}

// TouchSession records activity on a session and its user.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string, seen time.Time) error {
	return shared.RetryOnConflict(ctx, s.retry, "touch_session", func(ctx context.Context) error {
		result, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET last_seen_at = ? WHERE session_id = ?`, seen.Unix(), sessionID)
		if err != nil {
			return fmt.Errorf("update session last_seen: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rows == 0 {
			slog.Warn("TouchSession affected 0 rows", "session_id", sessionID)
			return nil
		}

		_, err = s.db.ExecContext(ctx, `
			UPDATE users SET last_seen_at = ?
			WHERE user_id = (SELECT user_id FROM sessions WHERE session_id = ?)`,
			seen.Unix(), sessionID)
		if err != nil {
			return fmt.Errorf("update user last_seen: %w", err)
		}
		return nil
	})
}

// RevokeSession marks a session as signed out. Revoking an unknown or
// already revoked session is not an error.
func (s *SQLiteStore) RevokeSession(ctx context.Context, sessionID string) error {
	return shared.RetryOnConflict(ctx, s.retry, "revoke_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET revoked_at = ? WHERE session_id = ? AND revoked_at IS NULL`,
			time.Now().Unix(), sessionID)
		if err != nil {
			return fmt.Errorf("revoke session: %w", err)
		}
		return nil
	})
}

// DeleteExpiredSessions removes sessions that expired or were revoked.
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, now time.Time) ([]*domain.Session, error) {
	var removed []*domain.Session

	err := shared.RetryOnConflict(ctx, s.retry, "delete_expired_sessions", func(ctx context.Context) error {
		removed = nil

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back session sweep", "error", rbErr)
			}
		}()

		rows, err := tx.QueryContext(ctx, `
			SELECT session_id, user_id, upstream_token, created_at, last_seen_at, expires_at, revoked_at
			FROM sessions WHERE expires_at <= ? OR revoked_at IS NOT NULL`, now.Unix())
		if err != nil {
			return fmt.Errorf("query expired sessions: %w", err)
		}
		for rows.Next() {
			session, err := scanSession(rows)
			if err != nil {
				_ = rows.Close()
				return fmt.Errorf("scan expired session row: %w", err)
			}
			removed = append(removed, session)
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("iterate expired sessions: %w", err)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("close expired sessions rows: %w", err)
		}

		if len(removed) == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM sessions WHERE expires_at <= ? OR revoked_at IS NOT NULL`, now.Unix()); err != nil {
			return fmt.Errorf("delete expired sessions: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var createdAt, lastSeen, expiresAt int64
	var revokedAt sql.NullInt64

	if err := row.Scan(
		&session.SessionID, &session.UserID, &session.UpstreamToken,
		&createdAt, &lastSeen, &expiresAt, &revokedAt,
	); err != nil {
		return nil, err
	}

	session.CreatedAt = time.Unix(createdAt, 0)
	session.LastSeenAt = time.Unix(lastSeen, 0)
	session.ExpiresAt = time.Unix(expiresAt, 0)
	if revokedAt.Valid {
		ts := time.Unix(revokedAt.Int64, 0)
		session.RevokedAt = &ts
	}
	return &session, nil
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
