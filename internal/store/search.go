// ABOUTME: Keyword search queries over messages, events, and records tables.
// ABOUTME: Backs the SQLite-based source retrievers with LIKE-term matching.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// likeClause builds an OR of LIKE conditions over the given column for each
// term, returning the clause and its bind arguments. Empty terms match
// nothing rather than everything.
func likeClause(column string, terms []string) (string, []any) {
	if len(terms) == 0 {
		return "0", nil
	}
	var parts []string
	var args []any
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		parts = append(parts, column+" LIKE ?")
		args = append(args, "%"+term+"%")
	}
	if len(parts) == 0 {
		return "0", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}

// SearchMessages returns the user's messages whose content matches any term,
// newest first. Results are strictly scoped to userID so one user's context
// never surfaces in another user's retrieval.
func (s *SQLiteStore) SearchMessages(ctx context.Context, userID string, terms []string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 20
	}
	clause, likeArgs := likeClause("content", terms)
	args := append([]any{userID}, likeArgs...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, user_id, role, content, metadata, created_at
		 FROM messages WHERE user_id = ? AND `+clause+`
		 ORDER BY created_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SearchEvents returns the user's events whose title or detail matches any
// term, soonest first.
func (s *SQLiteStore) SearchEvents(ctx context.Context, userID string, terms []string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 20
	}
	clause, likeArgs := likeClause("title || ' ' || COALESCE(detail, '')", terms)
	args := append([]any{userID}, likeArgs...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, detail, occurs_at
		 FROM events WHERE user_id = ? AND `+clause+`
		 ORDER BY occurs_at ASC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var detail sql.NullString
		var occursAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &detail, &occursAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Detail = detail.String
		e.OccursAt, _ = time.Parse(time.RFC3339, occursAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// SearchRecords returns the user's financial records whose description or
// category matches any term, newest first.
func (s *SQLiteStore) SearchRecords(ctx context.Context, userID string, terms []string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 20
	}
	clause, likeArgs := likeClause("description || ' ' || COALESCE(category, '')", terms)
	args := append([]any{userID}, likeArgs...)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, description, amount_cents, category, posted_at
		 FROM records WHERE user_id = ? AND `+clause+`
		 ORDER BY posted_at DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r := &Record{}
		var category sql.NullString
		var postedAt string
		if err := rows.Scan(&r.ID, &r.UserID, &r.Description, &r.AmountCents, &category, &postedAt); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		r.Category = category.String
		r.PostedAt, _ = time.Parse(time.RFC3339, postedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// InsertEvent stores an event row. Used by integrations seeding the event store.
func (s *SQLiteStore) InsertEvent(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, user_id, title, detail, occurs_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Title, e.Detail, e.OccursAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// InsertRecord stores a financial record row.
func (s *SQLiteStore) InsertRecord(ctx context.Context, r *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, user_id, description, amount_cents, category, posted_at) VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, r.Description, r.AmountCents, r.Category, r.PostedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return nil
}
