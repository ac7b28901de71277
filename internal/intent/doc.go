// Package intent classifies raw query text into a structured Intent.
//
// # Classification
//
// Classification is deterministic keyword matching by default: each context
// source has an associated keyword list, and the query's category (factual,
// retrieval, summarization, action) is derived from the strongest signal.
// An optional SemanticModel takes precedence when configured; if it fails,
// Classify returns ErrClassificationUnavailable and the caller degrades to a
// default low-confidence intent rather than failing the query.
//
// # Intent Structure
//
// An Intent carries:
//
//   - Category: the query's primary shape
//   - Confidence: 0..1, capped below 1 for the heuristic path
//   - Sources: ranked candidate context sources
//   - Params: extracted filters (sender, date_range)
package intent
