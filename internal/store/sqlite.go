// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides connection/conversation persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS connections (
			session_key  TEXT PRIMARY KEY,
			status       TEXT NOT NULL,
			phone_number TEXT NOT NULL DEFAULT '',
			platform     TEXT NOT NULL DEFAULT '',
			display_name TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL,
			updated_at   DATETIME NOT NULL,

			CHECK (status IN ('pending', 'connected', 'disconnected'))
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id              TEXT PRIMARY KEY,
			session_key     TEXT NOT NULL,
			contact_address TEXT NOT NULL,
			contact_name    TEXT NOT NULL DEFAULT '',
			backend_id      TEXT NOT NULL,
			status          TEXT NOT NULL,
			created_at      DATETIME NOT NULL,
			updated_at      DATETIME NOT NULL,

			CHECK (status IN ('ongoing', 'ended'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_ongoing
			ON conversations(session_key, contact_address)
			WHERE status = 'ongoing';

		CREATE INDEX IF NOT EXISTS idx_conversations_session
			ON conversations(session_key, updated_at);

		CREATE TABLE IF NOT EXISTS turns (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_turns_conversation
			ON turns(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS activity_log (
			id          TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			event       TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			created_at  DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_activity_session
			ON activity_log(session_key, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// UpsertConnection creates or updates the connection record for a session key.
func (s *SQLiteStore) UpsertConnection(ctx context.Context, rec *ConnectionRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO connections (session_key, status, phone_number, platform, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			status = excluded.status,
			phone_number = excluded.phone_number,
			platform = excluded.platform,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at
	`, rec.SessionKey, rec.Status, rec.PhoneNumber, rec.Platform, rec.DisplayName, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting connection: %w", err)
	}
	return nil
}

// GetConnection retrieves the connection record for a session key.
func (s *SQLiteStore) GetConnection(ctx context.Context, sessionKey string) (*ConnectionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_key, status, phone_number, platform, display_name, created_at, updated_at
		FROM connections WHERE session_key = ?
	`, sessionKey)

	var rec ConnectionRecord
	err := row.Scan(&rec.SessionKey, &rec.Status, &rec.PhoneNumber, &rec.Platform,
		&rec.DisplayName, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting connection: %w", err)
	}
	return &rec, nil
}

// DeleteConnection removes the connection record for a session key.
// Deleting a missing record is not an error.
func (s *SQLiteStore) DeleteConnection(ctx context.Context, sessionKey string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE session_key = ?`, sessionKey); err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	return nil
}

// CreateConversation inserts a new conversation. Returns
// ErrDuplicateConversation if an ongoing conversation already exists for the
// same (session key, contact address) pair.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	if conv.Status == "" {
		conv.Status = ConversationOngoing
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, session_key, contact_address, contact_name, backend_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, conv.ID, conv.SessionKey, conv.ContactAddress, conv.ContactName, conv.BackendID, conv.Status, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

// GetOngoingConversation retrieves the single ongoing conversation for a
// contact, or ErrNotFound.
func (s *SQLiteStore) GetOngoingConversation(ctx context.Context, sessionKey, contactAddress string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_key, contact_address, contact_name, backend_id, status, created_at, updated_at
		FROM conversations
		WHERE session_key = ? AND contact_address = ? AND status = 'ongoing'
	`, sessionKey, contactAddress)
	return scanConversation(row)
}

// ListConversations returns conversations for a session key, most recently
// updated first.
func (s *SQLiteStore) ListConversations(ctx context.Context, sessionKey string, limit, offset int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_key, contact_address, contact_name, backend_id, status, created_at, updated_at
		FROM conversations
		WHERE session_key = ?
		ORDER BY updated_at DESC
		LIMIT ? OFFSET ?
	`, sessionKey, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// EndConversation marks a conversation as ended.
func (s *SQLiteStore) EndConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = 'ended', updated_at = ? WHERE id = ?
	`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("ending conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ending conversation: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// EndAllConversations force-ends every ongoing conversation for a session
// key and returns the number ended. Used when the channel disconnects.
func (s *SQLiteStore) EndAllConversations(ctx context.Context, sessionKey string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status = 'ended', updated_at = ?
		WHERE session_key = ? AND status = 'ongoing'
	`, time.Now().UTC(), sessionKey)
	if err != nil {
		return 0, fmt.Errorf("ending conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ending conversations: %w", err)
	}
	return int(n), nil
}

// SaveTurn appends a transcript turn.
func (s *SQLiteStore) SaveTurn(ctx context.Context, turn *Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (id, conversation_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, turn.ID, turn.ConversationID, turn.Role, turn.Content, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving turn: %w", err)
	}
	return nil
}

// GetTurns returns transcript turns for a conversation in chronological order.
func (s *SQLiteStore) GetTurns(ctx context.Context, conversationID string, limit int) ([]*Turn, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at
		FROM turns
		WHERE conversation_id = ?
		ORDER BY created_at ASC
		LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("getting turns: %w", err)
	}
	defer rows.Close()

	var turns []*Turn
	for rows.Next() {
		var turn Turn
		if err := rows.Scan(&turn.ID, &turn.ConversationID, &turn.Role, &turn.Content, &turn.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, &turn)
	}
	return turns, rows.Err()
}

// SaveActivity inserts an activity log entry.
func (s *SQLiteStore) SaveActivity(ctx context.Context, entry *ActivityEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, session_key, event, detail, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ID, entry.SessionKey, entry.Event, entry.Detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving activity: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// scanner abstracts sql.Row and sql.Rows for scanConversation.
type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (*Conversation, error) {
	var conv Conversation
	err := row.Scan(&conv.ID, &conv.SessionKey, &conv.ContactAddress, &conv.ContactName,
		&conv.BackendID, &conv.Status, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}
	return &conv, nil
}

// isUniqueViolation reports whether the error is a SQLite unique constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
