// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite.
// ABOUTME: Provides message/invocation persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width RFC 3339 variant so stored timestamps
// sort lexicographically even within the same second.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

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
		if err := os.MkdirAll(dir, 0755); err != nil {
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

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

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
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			user_id TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation
			ON messages(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			conversation_id TEXT,
			query TEXT NOT NULL,
			intent_category TEXT,
			agent TEXT,
			state TEXT NOT NULL,
			cache_hit INTEGER NOT NULL DEFAULT 0,
			degraded_sources TEXT,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error_kind TEXT,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_conversation
			ON invocations(conversation_id, created_at);

		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			detail TEXT,
			occurs_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL,
			amount_cents INTEGER NOT NULL,
			category TEXT,
			posted_at DATETIME NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// AppendMessage saves a conversation message and returns its generated ID.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID, userID, role, content string, metadata map[string]string) (string, error) {
	id := uuid.New().String()

	var meta sql.NullString
	if len(metadata) > 0 {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return "", fmt.Errorf("encoding metadata: %w", err)
		}
		meta = sql.NullString{String: string(raw), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, user_id, role, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, conversationID, userID, role, content, meta, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return "", fmt.Errorf("inserting message: %w", err)
	}

	s.logger.Debug("message appended",
		"message_id", id,
		"conversation_id", conversationID,
		"role", role,
	)
	return id, nil
}

// GetMessages returns up to limit messages for a conversation, oldest first.
func (s *SQLiteStore) GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, metadata, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC LIMIT ?`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecordInvocation stores one pipeline invocation telemetry row.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (
			id, conversation_id, query, intent_category, agent, state,
			cache_hit, degraded_sources, input_tokens, output_tokens,
			cost_usd, latency_ms, error_kind, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.ConversationID,
		inv.Query,
		inv.IntentCategory,
		inv.Agent,
		inv.State,
		boolToInt(inv.CacheHit),
		strings.Join(inv.DegradedSrcs, ","),
		inv.InputTokens,
		inv.OutputTokens,
		inv.CostUSD,
		inv.Latency.Milliseconds(),
		inv.ErrorKind,
		inv.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}

	s.logger.Debug("invocation recorded",
		"invocation_id", inv.ID,
		"state", inv.State,
		"agent", inv.Agent,
		"cache_hit", inv.CacheHit,
	)
	return nil
}

// GetInvocation returns a single invocation row by ID.
func (s *SQLiteStore) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, query, intent_category, agent, state,
			cache_hit, degraded_sources, input_tokens, output_tokens,
			cost_usd, latency_ms, error_kind, created_at
		 FROM invocations WHERE id = ?`, id)

	inv := &Invocation{}
	var cacheHit int
	var degraded, createdAt string
	var latencyMs int64
	err := row.Scan(
		&inv.ID, &inv.ConversationID, &inv.Query, &inv.IntentCategory,
		&inv.Agent, &inv.State, &cacheHit, &degraded,
		&inv.InputTokens, &inv.OutputTokens, &inv.CostUSD, &latencyMs,
		&inv.ErrorKind, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning invocation: %w", err)
	}
	inv.CacheHit = cacheHit != 0
	if degraded != "" {
		inv.DegradedSrcs = strings.Split(degraded, ",")
	}
	inv.Latency = time.Duration(latencyMs) * time.Millisecond
	inv.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return inv, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		m := &Message{}
		var meta sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.Role, &m.Content, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &m.Metadata); err != nil {
				return nil, fmt.Errorf("decoding metadata: %w", err)
			}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
