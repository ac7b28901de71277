// ABOUTME: Intent types describing what a query is asking for and which sources can answer it.
// ABOUTME: Produced once per pipeline invocation and never mutated afterwards.

package intent

import "errors"

// ErrClassificationUnavailable indicates the semantic model backing the
// classifier could not be reached. Callers should fall back to a default
// low-confidence intent rather than failing the request.
var ErrClassificationUnavailable = errors.New("classification unavailable")

// Category is the closed set of query purposes the pipeline understands.
type Category string

const (
	CategoryFactual       Category = "factual"
	CategoryRetrieval     Category = "retrieval"
	CategorySummarization Category = "summarization"
	CategoryAction        Category = "action"
)

// Source tags for the known context sources.
const (
	SourceMessages = "messages"
	SourceEvents   = "events"
	SourceRecords  = "records"
	SourceMemory   = "memory"
)

// SourceCandidate is one candidate context source with a confidence score.
type SourceCandidate struct {
	Source     string
	Confidence float64
}

// Intent is the structured interpretation of a query. Sources is ranked by
// confidence descending; downstream stages use the top entry but may consult
// alternates when the top source yields nothing.
type Intent struct {
	Category   Category
	Confidence float64
	Sources    []SourceCandidate
	Params     map[string]string
}

// TopSource returns the highest-confidence source candidate, or "" when the
// query matched no source at all.
func (i *Intent) TopSource() string {
	if len(i.Sources) == 0 {
		return ""
	}
	return i.Sources[0].Source
}

// HasSource reports whether src appears anywhere in the candidate list.
func (i *Intent) HasSource(src string) bool {
	for _, c := range i.Sources {
		if c.Source == src {
			return true
		}
	}
	return false
}
