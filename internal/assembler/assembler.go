// ABOUTME: Context assembler that fans out to matching retrievers and merges results.
// ABOUTME: Produces a ranked, size-bounded, fingerprinted ContextBundle.

package assembler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/retriever"
)

// Bundle is the assembled, immutable context for one invocation.
type Bundle struct {
	Items       []retriever.Item
	Degraded    []string // sources that timed out or errored
	Fingerprint string   // deterministic hash of sorted item IDs + intent
}

// Provenance returns the provenance identifiers of all items in the bundle.
func (b *Bundle) Provenance() []string {
	ids := make([]string, len(b.Items))
	for i, item := range b.Items {
		ids[i] = item.Provenance
	}
	return ids
}

// Assembler fans out to source retrievers and merges their output.
type Assembler struct {
	retrievers []retriever.Retriever
	timeout    time.Duration
	maxItems   int
	byteBudget int
	logger     *slog.Logger
}

// Config holds assembler tuning knobs.
type Config struct {
	// RetrieverTimeout bounds each individual source lookup.
	RetrieverTimeout time.Duration
	// MaxItems caps the number of items in the final bundle.
	MaxItems int
	// ByteBudget caps total content size across all items.
	ByteBudget int
}

// New creates an Assembler over the given retrievers.
func New(retrievers []retriever.Retriever, cfg Config, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RetrieverTimeout <= 0 {
		cfg.RetrieverTimeout = 2 * time.Second
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = 20
	}
	if cfg.ByteBudget <= 0 {
		cfg.ByteBudget = 8192
	}
	return &Assembler{
		retrievers: retrievers,
		timeout:    cfg.RetrieverTimeout,
		maxItems:   cfg.MaxItems,
		byteBudget: cfg.ByteBudget,
		logger:     logger.With("component", "assembler"),
	}
}

// sourceResult carries one retriever's outcome back from the fan-out.
type sourceResult struct {
	source string
	items  []retriever.Item
	err    error
}

// Assemble fans out to every retriever matching any of the intent's candidate
// sources (not only the top one, to tolerate misclassification), merges and
// de-duplicates the results, truncates to budget, and fingerprints the
// bundle. A retriever failure drops that source and flags it degraded; it
// never fails the assembly. An empty bundle is a valid outcome.
func (a *Assembler) Assemble(ctx context.Context, text string, it *intent.Intent) *Bundle {
	matched := a.matchRetrievers(it)

	results := make(chan sourceResult, len(matched))
	var wg sync.WaitGroup
	for _, r := range matched {
		wg.Add(1)
		go func(r retriever.Retriever) {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, a.timeout)
			defer cancel()
			items, err := r.Retrieve(rctx, text, it)
			results <- sourceResult{source: r.Name(), items: items, err: err}
		}(r)
	}
	wg.Wait()
	close(results)

	var merged []retriever.Item
	var degraded []string
	for res := range results {
		if res.err != nil {
			a.logger.Warn("retriever degraded", "source", res.source, "error", res.err)
			degraded = append(degraded, res.source)
			continue
		}
		merged = append(merged, res.items...)
	}
	sort.Strings(degraded)

	items := truncate(dedupe(merged), a.maxItems, a.byteBudget)
	bundle := &Bundle{
		Items:       items,
		Degraded:    degraded,
		Fingerprint: Fingerprint(items, it),
	}

	a.logger.Debug("context assembled",
		"matched_sources", len(matched),
		"items", len(items),
		"degraded", degraded,
		"fingerprint", bundle.Fingerprint[:12],
	)
	return bundle
}

// matchRetrievers returns the retrievers whose source appears in the
// intent's candidate list.
func (a *Assembler) matchRetrievers(it *intent.Intent) []retriever.Retriever {
	if it == nil || len(it.Sources) == 0 {
		return nil
	}
	var matched []retriever.Retriever
	for _, r := range a.retrievers {
		if it.HasSource(r.Name()) {
			matched = append(matched, r)
		}
	}
	return matched
}

// dedupe drops duplicate provenance IDs, keeping the higher-relevance copy,
// and re-sorts relevance-descending with provenance as the stable tie-break.
func dedupe(items []retriever.Item) []retriever.Item {
	best := make(map[string]retriever.Item, len(items))
	for _, item := range items {
		if prev, ok := best[item.Provenance]; !ok || item.Relevance > prev.Relevance {
			best[item.Provenance] = item
		}
	}
	out := make([]retriever.Item, 0, len(best))
	for _, item := range best {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relevance != out[j].Relevance {
			return out[i].Relevance > out[j].Relevance
		}
		return out[i].Provenance < out[j].Provenance
	})
	return out
}

// truncate applies greedy highest-relevance-first selection under both the
// item cap and the total byte budget. Items that do not fit are skipped in
// favor of smaller lower-ranked ones.
func truncate(items []retriever.Item, maxItems, byteBudget int) []retriever.Item {
	var out []retriever.Item
	used := 0
	for _, item := range items {
		if len(out) >= maxItems {
			break
		}
		size := len(item.Content)
		if used+size > byteBudget {
			continue
		}
		out = append(out, item)
		used += size
	}
	return out
}

// Fingerprint hashes the sorted item provenance IDs together with the intent
// category. Identical context for the same intent always hashes the same.
// Exported so callers that filter a bundle can recompute the hash over the
// surviving items.
func Fingerprint(items []retriever.Item, it *intent.Intent) string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.Provenance
	}
	sort.Strings(ids)

	h := sha256.New()
	if it != nil {
		h.Write([]byte(it.Category))
	}
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
