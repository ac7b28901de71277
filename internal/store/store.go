// ABOUTME: Store interface and data types for loom-gateway persistence.
// ABOUTME: Defines conversation messages, invocation telemetry, and source records.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Message is a single conversation message, persisted for history and served
// back to the messages retriever.
type Message struct {
	ID             string
	ConversationID string
	UserID         string
	Role           string // "user" or "assistant"
	Content        string
	Metadata       map[string]string
	CreatedAt      time.Time
}

// Invocation is the telemetry record for one pipeline invocation.
type Invocation struct {
	ID             string
	ConversationID string
	Query          string
	IntentCategory string
	Agent          string
	State          string
	CacheHit       bool
	DegradedSrcs   []string
	InputTokens    int64
	OutputTokens   int64
	CostUSD        float64
	Latency        time.Duration
	ErrorKind      string
	CreatedAt      time.Time
}

// Event is a calendar-like item served by the events retriever.
type Event struct {
	ID       string
	UserID   string
	Title    string
	Detail   string
	OccursAt time.Time
}

// Record is a financial record served by the records retriever.
type Record struct {
	ID          string
	UserID      string
	Description string
	AmountCents int64
	Category    string
	PostedAt    time.Time
}

// Store is the persistence contract the orchestrator and retrievers depend on.
type Store interface {
	AppendMessage(ctx context.Context, conversationID, userID, role, content string, metadata map[string]string) (string, error)
	GetMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	RecordInvocation(ctx context.Context, inv *Invocation) error

	SearchMessages(ctx context.Context, userID string, terms []string, limit int) ([]*Message, error)
	SearchEvents(ctx context.Context, userID string, terms []string, limit int) ([]*Event, error)
	SearchRecords(ctx context.Context, userID string, terms []string, limit int) ([]*Record, error)

	Close() error
}
