// ABOUTME: Agent selector ranking completion backends by affinity, cost, and latency.
// ABOUTME: Explicit user overrides win over automatic selection when usable.

package selector

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/2389/loom-gateway/internal/backend"
	"github.com/2389/loom-gateway/internal/intent"
)

// ErrNoAgentAvailable indicates every candidate backend is unavailable.
// This is terminal for the invocation; the orchestrator surfaces it without
// retrying.
var ErrNoAgentAvailable = errors.New("no agent available")

// Weights tunes the selection policy scoring.
type Weights struct {
	Affinity float64 // reward for intent-category affinity
	Cost     float64 // penalty per USD of output cost per 1M tokens
	Latency  float64 // penalty per second of observed average latency
}

// DefaultWeights is the selection policy used when config provides none.
var DefaultWeights = Weights{Affinity: 1.0, Cost: 0.05, Latency: 0.2}

// Selector chooses which completion backend services a request.
type Selector struct {
	registry *backend.Registry
	weights  Weights
	prefs    []string // stable preference order for tie-breaking
	logger   *slog.Logger
}

// New creates a Selector. prefs lists backend names in preferred order; names
// not listed rank after listed ones, alphabetically.
func New(registry *backend.Registry, weights Weights, prefs []string, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	if weights == (Weights{}) {
		weights = DefaultWeights
	}
	return &Selector{
		registry: registry,
		weights:  weights,
		prefs:    prefs,
		logger:   logger.With("component", "selector"),
	}
}

// Select picks the backend for a request. A non-empty override naming a
// backend that is not unavailable is honored unconditionally; an unavailable
// or unknown override falls back to automatic selection. Returns
// ErrNoAgentAvailable only when every candidate is unavailable.
func (s *Selector) Select(it *intent.Intent, override string) (*backend.Descriptor, error) {
	if override != "" {
		if desc, _, ok := s.registry.Get(override); ok && desc.Health() != backend.HealthUnavailable {
			s.logger.Debug("override honored", "agent", override)
			return desc, nil
		}
		s.logger.Warn("override unusable, falling back to automatic selection", "agent", override)
	}

	ranked := s.Rank(it)
	if len(ranked) == 0 {
		return nil, ErrNoAgentAvailable
	}
	return ranked[0], nil
}

// Rank returns all usable backends ordered best-first by the policy score.
// Degraded backends rank after healthy ones regardless of score; unavailable
// backends are excluded. The ordering is stable for identical inputs.
func (s *Selector) Rank(it *intent.Intent) []*backend.Descriptor {
	var candidates []*backend.Descriptor
	for _, d := range s.registry.List() {
		if d.Health() != backend.HealthUnavailable {
			candidates = append(candidates, d)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		hi, hj := candidates[i].Health(), candidates[j].Health()
		if hi != hj {
			return hi < hj // healthy before degraded
		}
		si, sj := s.score(candidates[i], it), s.score(candidates[j], it)
		if si != sj {
			return si > sj
		}
		return s.prefRank(candidates[i].Name) < s.prefRank(candidates[j].Name)
	})
	return candidates
}

// score computes the policy score for one backend.
func (s *Selector) score(d *backend.Descriptor, it *intent.Intent) float64 {
	category := intent.CategoryFactual
	if it != nil {
		category = it.Category
	}
	score := s.weights.Affinity * d.AffinityFor(category)
	score -= s.weights.Cost * d.Pricing.OutputPerM
	score -= s.weights.Latency * d.AvgLatency().Seconds()
	return score
}

// prefRank returns the index of name in the preference order, or a rank past
// the end for names not listed (registry listing is already alphabetical, so
// unlisted names keep a stable relative order).
func (s *Selector) prefRank(name string) int {
	for i, p := range s.prefs {
		if p == name {
			return i
		}
	}
	return len(s.prefs)
}
