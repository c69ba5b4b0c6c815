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

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/shared"
	"github.com/containerd/errdefs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	writeRetries   = 3
	writeBaseDelay = 50 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers while the pipeline writes.
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL,
		last_activity INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		conversation_id TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
		user_id TEXT NOT NULL REFERENCES users(user_id),
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (conversation_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL REFERENCES conversations(conversation_id),
		sender_id TEXT NOT NULL REFERENCES users(user_id),
		sender_name TEXT NOT NULL,
		text TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'user',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	now := time.Now().UnixMilli()
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO conversations (conversation_id, created_at, updated_at) VALUES (?, ?, ?)`,
		domain.DefaultConversationID, now, now,
	); err != nil {
		return fmt.Errorf("create default conversation: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetOrCreateUser upserts the user keyed by display name and returns it.
func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, displayName string) (*domain.User, error) {
	now := time.Now().UnixMilli()
	query := `
	INSERT INTO users (user_id, username, created_at, last_activity)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(username) DO UPDATE SET
		last_activity = excluded.last_activity`

	err := s.withRetry(ctx, "upsert user", func() error {
		_, err := s.db.ExecContext(ctx, query, uuid.NewString(), displayName, now, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetUserByName(ctx, displayName)
}

// GetUserByName retrieves a user by display name.
func (s *SQLiteStore) GetUserByName(ctx context.Context, displayName string) (*domain.User, error) {
	query := `SELECT user_id, username, created_at, last_activity FROM users WHERE username = ?`

	var user domain.User
	var createdAt, lastActivity int64
	err := s.db.QueryRowContext(ctx, query, displayName).Scan(
		&user.UserID, &user.DisplayName, &createdAt, &lastActivity,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", displayName, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.CreatedAt = time.UnixMilli(createdAt)
	user.LastActivity = time.UnixMilli(lastActivity)
	return &user, nil
}

// AddParticipant records membership of userID in conversationID.
func (s *SQLiteStore) AddParticipant(ctx context.Context, conversationID, userID string) error {
	query := `
	INSERT OR IGNORE INTO conversation_participants (conversation_id, user_id, joined_at)
	VALUES (?, ?, ?)`
	return s.withRetry(ctx, "add participant", func() error {
		_, err := s.db.ExecContext(ctx, query, conversationID, userID, time.Now().UnixMilli())
		return err
	})
}

// SaveMessage appends msg and bumps the conversation's updated_at in one transaction.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *domain.Message) error {
	if msg.Kind == "" {
		msg.Kind = domain.MessageKindUser
	}
	createdAt := time.Now()

	var id int64
	err := s.withRetry(ctx, "save message", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, sender_id, sender_name, text, message_type, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ConversationID, msg.SenderID, msg.SenderName, msg.Text, string(msg.Kind), createdAt.UnixMilli(),
		)
		if err != nil {
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET updated_at = ? WHERE conversation_id = ?`,
			createdAt.UnixMilli(), msg.ConversationID,
		); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}

	msg.ID = id
	msg.CreatedAt = time.UnixMilli(createdAt.UnixMilli())
	return nil
}

// History returns the latest limit messages, oldest first. limit <= 0 returns everything.
func (s *SQLiteStore) History(ctx context.Context, conversationID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	query := `
	SELECT id, conversation_id, sender_id, sender_name, text, message_type, created_at FROM (
		SELECT * FROM messages WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close history rows", "error", closeErr)
		}
	}()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		var kind string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.Text, &kind, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		m.Kind = domain.MessageKind(kind)
		m.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return messages, nil
}

// GetConversation retrieves conversation metadata.
func (s *SQLiteStore) GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	var c domain.Conversation
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, created_at, updated_at FROM conversations WHERE conversation_id = ?`,
		conversationID,
	).Scan(&c.ConversationID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}
	c.CreatedAt = time.UnixMilli(createdAt)
	c.UpdatedAt = time.UnixMilli(updatedAt)
	return &c, nil
}

// withRetry runs fn with exponential backoff while SQLite reports lock contention.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < writeRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == writeRetries-1 {
			break
		}

		delay := writeBaseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SQLite busy, retrying", "op", op, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ Repository = (*SQLiteStore)(nil)
