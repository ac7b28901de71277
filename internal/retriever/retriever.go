// ABOUTME: Retriever interface and ContextItem type for per-source context lookup.
// ABOUTME: Each concrete source implements a subset of the search capabilities.

package retriever

import (
	"context"
	"strings"

	"github.com/2389/loom-gateway/internal/intent"
)

// Capability identifies one of the search styles a retriever supports.
type Capability string

const (
	CapKeyword    Capability = "search-by-keyword"
	CapSimilarity Capability = "search-by-similarity"
	CapFilter     Capability = "search-by-structured-filter"
)

// Item is one candidate context snippet returned by a retriever.
type Item struct {
	Source     string  // source tag, e.g. "messages"
	Content    string  // content snippet
	Relevance  float64 // higher is more relevant
	Provenance string  // stable identifier of the underlying record
}

// Retriever fetches candidate context items for a query. Implementations
// must return a bounded result ordered by relevance descending, and must
// honor ctx cancellation since the assembler applies per-source timeouts.
type Retriever interface {
	Name() string
	Capabilities() []Capability
	Retrieve(ctx context.Context, text string, it *intent.Intent) ([]Item, error)
}

// UserID extracts the requesting user from the intent parameters. All
// store-backed retrievers scope their searches to this user.
func UserID(it *intent.Intent) string {
	if it == nil {
		return ""
	}
	return it.Params["user_id"]
}

// stopwords are excluded from search terms derived from query text.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "find": true, "for": true,
	"from": true, "get": true, "in": true, "is": true, "me": true, "my": true,
	"of": true, "on": true, "show": true, "the": true, "to": true, "was": true,
	"what": true, "when": true, "with": true,
}

// SearchTerms derives keyword terms from query text and intent parameters.
// Intent params (named sender, date range) come first so structured matches
// outrank incidental word hits.
func SearchTerms(text string, it *intent.Intent) []string {
	var terms []string
	if it != nil {
		if sender, ok := it.Params["sender"]; ok {
			terms = append(terms, sender)
		}
	}
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) < 3 || stopwords[w] {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// scoreByTerms computes a simple relevance score in (0, 1] from the number
// of term hits in content, biased by the source confidence from the intent.
func scoreByTerms(content string, terms []string, base float64) float64 {
	lower := strings.ToLower(content)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			hits++
		}
	}
	if hits == 0 {
		return base * 0.1
	}
	score := base + float64(hits)*0.1
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// sourceConfidence returns the intent's confidence for a given source, with
// a low floor so sources consulted via alternates still produce usable scores.
func sourceConfidence(it *intent.Intent, source string) float64 {
	if it == nil {
		return 0.3
	}
	for _, c := range it.Sources {
		if c.Source == source {
			return c.Confidence
		}
	}
	return 0.3
}
