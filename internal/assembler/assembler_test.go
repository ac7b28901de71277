// ABOUTME: Tests for the context assembler fan-out, dedup, truncation, and fingerprint.
// ABOUTME: Uses stub retrievers to exercise partial failure and budget handling.

package assembler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/retriever"
)

// stubRetriever returns canned items, an error, or blocks until cancelled.
type stubRetriever struct {
	name  string
	items []retriever.Item
	err   error
	hang  bool
}

func (s *stubRetriever) Name() string { return s.name }

func (s *stubRetriever) Capabilities() []retriever.Capability {
	return []retriever.Capability{retriever.CapKeyword}
}

func (s *stubRetriever) Retrieve(ctx context.Context, text string, it *intent.Intent) ([]retriever.Item, error) {
	if s.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.items, s.err
}

func retrievalIntent(sources ...string) *intent.Intent {
	it := &intent.Intent{
		Category:   intent.CategoryRetrieval,
		Confidence: 0.9,
		Params:     map[string]string{},
	}
	for i, s := range sources {
		it.Sources = append(it.Sources, intent.SourceCandidate{
			Source:     s,
			Confidence: 0.9 - 0.1*float64(i),
		})
	}
	return it
}

func TestAssemble_MatchesOnlyCandidateSources(t *testing.T) {
	messages := &stubRetriever{name: "messages", items: []retriever.Item{
		{Source: "messages", Content: "netflix renewal", Relevance: 0.9, Provenance: "message:1"},
	}}
	events := &stubRetriever{name: "events", items: []retriever.Item{
		{Source: "events", Content: "standup", Relevance: 0.8, Provenance: "event:1"},
	}}
	a := New([]retriever.Retriever{messages, events}, Config{}, nil)

	bundle := a.Assemble(context.Background(), "find subscriptions", retrievalIntent("messages"))
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "message:1", bundle.Items[0].Provenance)
	assert.Empty(t, bundle.Degraded)
}

func TestAssemble_ConsultsAlternateSources(t *testing.T) {
	messages := &stubRetriever{name: "messages"}
	records := &stubRetriever{name: "records", items: []retriever.Item{
		{Source: "records", Content: "spotify $9.99", Relevance: 0.7, Provenance: "record:1"},
	}}
	a := New([]retriever.Retriever{messages, records}, Config{}, nil)

	// Top source yields nothing; the alternate still contributes.
	bundle := a.Assemble(context.Background(), "subscriptions", retrievalIntent("messages", "records"))
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, "record:1", bundle.Items[0].Provenance)
}

func TestAssemble_FailedRetrieverFlaggedDegraded(t *testing.T) {
	ok := &stubRetriever{name: "messages", items: []retriever.Item{
		{Source: "messages", Content: "hello", Relevance: 0.5, Provenance: "message:1"},
	}}
	broken := &stubRetriever{name: "records", err: errors.New("store offline")}
	a := New([]retriever.Retriever{ok, broken}, Config{}, nil)

	bundle := a.Assemble(context.Background(), "anything", retrievalIntent("messages", "records"))
	require.Len(t, bundle.Items, 1)
	assert.Equal(t, []string{"records"}, bundle.Degraded)
}

func TestAssemble_TimeoutFlaggedDegraded(t *testing.T) {
	slow := &stubRetriever{name: "messages", hang: true}
	a := New([]retriever.Retriever{slow}, Config{RetrieverTimeout: 20 * time.Millisecond}, nil)

	start := time.Now()
	bundle := a.Assemble(context.Background(), "anything", retrievalIntent("messages"))
	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, bundle.Items)
	assert.Equal(t, []string{"messages"}, bundle.Degraded)
}

func TestAssemble_DedupesByProvenance(t *testing.T) {
	a1 := &stubRetriever{name: "messages", items: []retriever.Item{
		{Source: "messages", Content: "dup", Relevance: 0.5, Provenance: "message:1"},
	}}
	a2 := &stubRetriever{name: "memory", items: []retriever.Item{
		{Source: "memory", Content: "dup richer", Relevance: 0.9, Provenance: "message:1"},
	}}
	a := New([]retriever.Retriever{a1, a2}, Config{}, nil)

	bundle := a.Assemble(context.Background(), "anything", retrievalIntent("messages", "memory"))
	require.Len(t, bundle.Items, 1)
	// Higher-relevance copy wins.
	assert.Equal(t, 0.9, bundle.Items[0].Relevance)
}

func TestAssemble_TruncatesToBudget(t *testing.T) {
	items := []retriever.Item{
		{Source: "messages", Content: "aaaaaaaaaa", Relevance: 0.9, Provenance: "message:1"},
		{Source: "messages", Content: "bbbbbbbbbb", Relevance: 0.8, Provenance: "message:2"},
		{Source: "messages", Content: "cc", Relevance: 0.7, Provenance: "message:3"},
	}
	r := &stubRetriever{name: "messages", items: items}
	a := New([]retriever.Retriever{r}, Config{ByteBudget: 14}, nil)

	bundle := a.Assemble(context.Background(), "anything", retrievalIntent("messages"))
	// Greedy: first item (10 bytes) fits, second (10) does not, third (2) does.
	require.Len(t, bundle.Items, 2)
	assert.Equal(t, "message:1", bundle.Items[0].Provenance)
	assert.Equal(t, "message:3", bundle.Items[1].Provenance)
}

func TestAssemble_EmptyIsValid(t *testing.T) {
	a := New(nil, Config{}, nil)

	bundle := a.Assemble(context.Background(), "what is the capital of France", &intent.Intent{
		Category: intent.CategoryFactual,
	})
	assert.Empty(t, bundle.Items)
	assert.NotEmpty(t, bundle.Fingerprint)
}

func TestFingerprint_Deterministic(t *testing.T) {
	r := &stubRetriever{name: "messages", items: []retriever.Item{
		{Source: "messages", Content: "x", Relevance: 0.9, Provenance: "message:2"},
		{Source: "messages", Content: "y", Relevance: 0.8, Provenance: "message:1"},
	}}
	a := New([]retriever.Retriever{r}, Config{}, nil)

	it := retrievalIntent("messages")
	b1 := a.Assemble(context.Background(), "anything", it)
	b2 := a.Assemble(context.Background(), "anything", it)
	assert.Equal(t, b1.Fingerprint, b2.Fingerprint)

	// A different intent category changes the fingerprint.
	other := retrievalIntent("messages")
	other.Category = intent.CategorySummarization
	b3 := a.Assemble(context.Background(), "anything", other)
	assert.NotEqual(t, b1.Fingerprint, b3.Fingerprint)
}
