// ABOUTME: Keyword-based intent classifier with optional external semantic model.
// ABOUTME: Deterministic for identical input text so cache keys stay stable.

package intent

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// SemanticModel is an optional external classification resource. When
// configured, it takes precedence over the keyword heuristics; when it fails
// the classifier returns ErrClassificationUnavailable and the caller degrades
// to a default intent.
type SemanticModel interface {
	Classify(ctx context.Context, text string) (*Intent, error)
}

// sourceKeywords maps each context source to the words that indicate a query
// targets it. Matching is case-insensitive whole-word.
var sourceKeywords = map[string][]string{
	SourceMessages: {"email", "emails", "mail", "inbox", "message", "messages", "sent", "subscriptions"},
	SourceEvents:   {"calendar", "event", "events", "meeting", "meetings", "appointment", "schedule", "agenda"},
	SourceRecords:  {"spend", "spent", "spending", "payment", "payments", "transaction", "transactions", "invoice", "balance", "charged"},
	SourceMemory:   {"said", "told", "discussed", "earlier", "before", "remember", "last time"},
}

var actionKeywords = []string{"send", "create", "add", "remind", "cancel", "delete", "book", "schedule a"}

var summaryKeywords = []string{"summarize", "summarise", "summary", "overview", "recap", "tl;dr"}

var (
	senderPattern    = regexp.MustCompile(`(?i)\bfrom\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)`)
	dateRangePattern = regexp.MustCompile(`(?i)\b(today|yesterday|this week|last week|this month|last month)\b`)
)

// Classifier maps raw query text to a structured Intent.
type Classifier struct {
	model  SemanticModel
	logger *slog.Logger
}

// NewClassifier creates a Classifier. The model may be nil, in which case
// only the built-in keyword heuristics are used.
func NewClassifier(model SemanticModel, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		model:  model,
		logger: logger.With("component", "intent"),
	}
}

// Classify derives an Intent from raw query text. Identical text always
// produces an identical Intent when the heuristic path is used. When a
// semantic model is configured and unreachable, ErrClassificationUnavailable
// is returned.
func (c *Classifier) Classify(ctx context.Context, text string) (*Intent, error) {
	if c.model != nil {
		it, err := c.model.Classify(ctx, text)
		if err != nil {
			c.logger.Warn("semantic model unavailable, classification failed", "error", err)
			return nil, ErrClassificationUnavailable
		}
		return it, nil
	}
	return c.classifyKeywords(text), nil
}

// classifyKeywords scores each source by keyword hits and derives the
// category from the strongest signal. Ties are broken by source name so the
// result is stable for identical input.
func (c *Classifier) classifyKeywords(text string) *Intent {
	lower := strings.ToLower(text)
	words := tokenize(lower)

	candidates := scoreSources(lower, words)
	category, confidence := deriveCategory(lower, candidates)

	it := &Intent{
		Category:   category,
		Confidence: confidence,
		Sources:    candidates,
		Params:     extractParams(text),
	}

	c.logger.Debug("classified query",
		"category", it.Category,
		"confidence", it.Confidence,
		"top_source", it.TopSource(),
	)
	return it
}

// scoreSources returns all sources with at least one keyword hit, ranked by
// score descending with name ascending as the tie-break.
func scoreSources(lower string, words map[string]bool) []SourceCandidate {
	var candidates []SourceCandidate
	for source, keywords := range sourceKeywords {
		hits := 0
		for _, kw := range keywords {
			if strings.Contains(kw, " ") {
				if strings.Contains(lower, kw) {
					hits++
				}
			} else if words[kw] {
				hits++
			}
		}
		if hits > 0 {
			candidates = append(candidates, SourceCandidate{
				Source:     source,
				Confidence: confidenceForHits(hits),
			})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].Source < candidates[j].Source
	})
	return candidates
}

// confidenceForHits maps a raw hit count to a bounded confidence score.
func confidenceForHits(hits int) float64 {
	conf := 0.5 + 0.2*float64(hits)
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

// deriveCategory picks the query category and its confidence.
func deriveCategory(lower string, candidates []SourceCandidate) (Category, float64) {
	for _, kw := range actionKeywords {
		if strings.Contains(lower, kw) {
			return CategoryAction, 0.8
		}
	}
	for _, kw := range summaryKeywords {
		if strings.Contains(lower, kw) {
			return CategorySummarization, 0.8
		}
	}
	if len(candidates) > 0 {
		return CategoryRetrieval, candidates[0].Confidence
	}
	return CategoryFactual, 0.5
}

// extractParams pulls free-form parameters (named sender, date range) out of
// the query text.
func extractParams(text string) map[string]string {
	params := map[string]string{}
	if m := senderPattern.FindStringSubmatch(text); m != nil {
		params["sender"] = m[1]
	}
	if m := dateRangePattern.FindStringSubmatch(text); m != nil {
		params["date_range"] = strings.ToLower(m[1])
	}
	return params
}

// tokenize splits lowered text into a word set.
func tokenize(lower string) map[string]bool {
	words := map[string]bool{}
	for _, w := range strings.FieldsFunc(lower, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		words[w] = true
	}
	return words
}

// Default returns the configured fallback intent used when classification is
// unavailable. It carries no source candidates so the pipeline proceeds
// without retrieved context.
func Default(category Category, confidence float64) *Intent {
	if category == "" {
		category = CategoryFactual
	}
	if confidence <= 0 {
		confidence = 0.1
	}
	return &Intent{
		Category:   category,
		Confidence: confidence,
		Params:     map[string]string{},
	}
}
