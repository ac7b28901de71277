// ABOUTME: Redis-backed retriever for prior conversation memory.
// ABOUTME: Scans the recent entries of a per-user memory list and ranks by term hits.

package retriever

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/2389/loom-gateway/internal/intent"
)

// memoryKeyPrefix namespaces the per-user memory lists in Redis.
const memoryKeyPrefix = "loom:memory:"

// Memory retrieves prior conversation memory items stored in Redis. Memory
// entries are pushed by integrations as "id|content" pairs; the newest
// maxScan entries are considered.
type Memory struct {
	client   redis.UniversalClient
	maxItems int
	maxScan  int64
}

// NewMemory creates the conversation memory retriever.
func NewMemory(client redis.UniversalClient, maxItems int) *Memory {
	if maxItems <= 0 {
		maxItems = 20
	}
	return &Memory{
		client:   client,
		maxItems: maxItems,
		maxScan:  200,
	}
}

func (r *Memory) Name() string { return intent.SourceMemory }

func (r *Memory) Capabilities() []Capability {
	return []Capability{CapKeyword, CapSimilarity}
}

// MemoryKey returns the Redis list key holding a user's memory entries.
func MemoryKey(userID string) string {
	return memoryKeyPrefix + userID
}

func (r *Memory) Retrieve(ctx context.Context, text string, it *intent.Intent) ([]Item, error) {
	userID := UserID(it)
	if userID == "" {
		return nil, nil
	}

	entries, err := r.client.LRange(ctx, MemoryKey(userID), 0, r.maxScan-1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading memory list: %w", err)
	}

	terms := SearchTerms(text, it)
	base := sourceConfidence(it, r.Name())

	var items []Item
	for _, entry := range entries {
		id, content := splitMemoryEntry(entry)
		score := scoreByTerms(content, terms, base)
		if score <= base*0.1 {
			continue // no term hit, skip noise
		}
		items = append(items, Item{
			Source:     r.Name(),
			Content:    content,
			Relevance:  score,
			Provenance: "memory:" + id,
		})
		if len(items) >= r.maxItems {
			break
		}
	}
	sortByRelevance(items)
	return items, nil
}

// splitMemoryEntry parses an "id|content" entry. Entries without a delimiter
// use the whole value as both id and content.
func splitMemoryEntry(entry string) (id, content string) {
	for i := 0; i < len(entry); i++ {
		if entry[i] == '|' {
			return entry[:i], entry[i+1:]
		}
	}
	return entry, entry
}
