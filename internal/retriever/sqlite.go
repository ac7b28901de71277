// ABOUTME: SQLite-backed source retrievers for messages, events, and financial records.
// ABOUTME: Each wraps the store's keyword search and maps rows to ranked ContextItems.

package retriever

import (
	"context"
	"fmt"
	"sort"

	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/store"
)

// MessageSearcher is what the messages retriever needs from storage.
type MessageSearcher interface {
	SearchMessages(ctx context.Context, userID string, terms []string, limit int) ([]*store.Message, error)
}

// Messages retrieves prior conversation messages (mail-like items) by keyword.
type Messages struct {
	store    MessageSearcher
	maxItems int
}

// NewMessages creates the messages retriever. maxItems bounds the result size.
func NewMessages(s MessageSearcher, maxItems int) *Messages {
	if maxItems <= 0 {
		maxItems = 20
	}
	return &Messages{store: s, maxItems: maxItems}
}

func (r *Messages) Name() string { return intent.SourceMessages }

func (r *Messages) Capabilities() []Capability {
	return []Capability{CapKeyword, CapFilter}
}

func (r *Messages) Retrieve(ctx context.Context, text string, it *intent.Intent) ([]Item, error) {
	terms := SearchTerms(text, it)
	msgs, err := r.store.SearchMessages(ctx, UserID(it), terms, r.maxItems)
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	base := sourceConfidence(it, r.Name())
	items := make([]Item, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, Item{
			Source:     r.Name(),
			Content:    m.Content,
			Relevance:  scoreByTerms(m.Content, terms, base),
			Provenance: "message:" + m.ID,
		})
	}
	sortByRelevance(items)
	return items, nil
}

// EventSearcher is what the events retriever needs from storage.
type EventSearcher interface {
	SearchEvents(ctx context.Context, userID string, terms []string, limit int) ([]*store.Event, error)
}

// Events retrieves calendar-like events by keyword.
type Events struct {
	store    EventSearcher
	maxItems int
}

// NewEvents creates the events retriever.
func NewEvents(s EventSearcher, maxItems int) *Events {
	if maxItems <= 0 {
		maxItems = 20
	}
	return &Events{store: s, maxItems: maxItems}
}

func (r *Events) Name() string { return intent.SourceEvents }

func (r *Events) Capabilities() []Capability {
	return []Capability{CapKeyword, CapFilter}
}

func (r *Events) Retrieve(ctx context.Context, text string, it *intent.Intent) ([]Item, error) {
	terms := SearchTerms(text, it)
	events, err := r.store.SearchEvents(ctx, UserID(it), terms, r.maxItems)
	if err != nil {
		return nil, fmt.Errorf("searching events: %w", err)
	}

	base := sourceConfidence(it, r.Name())
	items := make([]Item, 0, len(events))
	for _, e := range events {
		content := e.Title
		if e.Detail != "" {
			content += ": " + e.Detail
		}
		content += " (" + e.OccursAt.Format("2006-01-02 15:04") + ")"
		items = append(items, Item{
			Source:     r.Name(),
			Content:    content,
			Relevance:  scoreByTerms(content, terms, base),
			Provenance: "event:" + e.ID,
		})
	}
	sortByRelevance(items)
	return items, nil
}

// RecordSearcher is what the records retriever needs from storage.
type RecordSearcher interface {
	SearchRecords(ctx context.Context, userID string, terms []string, limit int) ([]*store.Record, error)
}

// Records retrieves financial records by keyword.
type Records struct {
	store    RecordSearcher
	maxItems int
}

// NewRecords creates the financial records retriever.
func NewRecords(s RecordSearcher, maxItems int) *Records {
	if maxItems <= 0 {
		maxItems = 20
	}
	return &Records{store: s, maxItems: maxItems}
}

func (r *Records) Name() string { return intent.SourceRecords }

func (r *Records) Capabilities() []Capability {
	return []Capability{CapKeyword, CapFilter}
}

func (r *Records) Retrieve(ctx context.Context, text string, it *intent.Intent) ([]Item, error) {
	terms := SearchTerms(text, it)
	records, err := r.store.SearchRecords(ctx, UserID(it), terms, r.maxItems)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}

	base := sourceConfidence(it, r.Name())
	items := make([]Item, 0, len(records))
	for _, rec := range records {
		content := fmt.Sprintf("%s: $%.2f (%s, %s)",
			rec.Description,
			float64(rec.AmountCents)/100,
			rec.Category,
			rec.PostedAt.Format("2006-01-02"),
		)
		items = append(items, Item{
			Source:     r.Name(),
			Content:    content,
			Relevance:  scoreByTerms(content, terms, base),
			Provenance: "record:" + rec.ID,
		})
	}
	sortByRelevance(items)
	return items, nil
}

// sortByRelevance orders items relevance-descending with provenance as a
// stable tie-break.
func sortByRelevance(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Relevance != items[j].Relevance {
			return items[i].Relevance > items[j].Relevance
		}
		return items[i].Provenance < items[j].Provenance
	})
}
