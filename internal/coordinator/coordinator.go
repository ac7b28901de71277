// ABOUTME: Execution coordinator that runs completions against a selected backend.
// ABOUTME: Streams deltas, records health and latency, and falls back once on failure.

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/loom-gateway/internal/backend"
	"github.com/2389/loom-gateway/internal/compliance"
	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/retriever"
	"github.com/2389/loom-gateway/internal/selector"
)

// Outcome summarizes one completed execution: which agent answered, the full
// response text, and the usage accounting for the invocation record.
type Outcome struct {
	Agent        string
	Response     string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Latency      time.Duration
	FellBack     bool
}

// Coordinator drives a completion against the chosen backend and owns the
// retry decision when that backend fails mid-flight.
type Coordinator struct {
	registry *backend.Registry
	selector *selector.Selector
	checker  *compliance.Checker
	logger   *slog.Logger
}

// New creates a coordinator. checker may be nil when no policy is loaded;
// fallback agents are then used without a re-check.
func New(registry *backend.Registry, sel *selector.Selector, checker *compliance.Checker, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		registry: registry,
		selector: sel,
		checker:  checker,
		logger:   logger.With("component", "coordinator"),
	}
}

// Execute runs the query against agent, forwarding each text increment to
// emit as it arrives. If the agent was auto-selected (overridden false) and
// fails with a retryable error, one fallback attempt is made against the
// next-ranked agent, even mid-stream: text the caller already received is
// never retracted, and the fallback stream is suppressed up to that point
// so the caller sees a single stream without a duplicate preamble. A
// fallback with a lower privacy tier than the original gets a fresh
// compliance check before it sees the context items.
func (c *Coordinator) Execute(ctx context.Context, queryText string, it *intent.Intent, items []retriever.Item, agent *backend.Descriptor, overridden bool, emit func(text string)) (*Outcome, error) {
	_, b, ok := c.registry.Get(agent.Name)
	if !ok {
		return nil, fmt.Errorf("selected agent %s: %w", agent.Name, backend.ErrNotFound)
	}

	req := backend.Request{Query: queryText, Context: items}
	out, delivered, err := c.attempt(ctx, agent, b, req, 0, emit)
	if err == nil {
		return out, nil
	}
	if overridden || ctx.Err() != nil || !retryable(err) {
		return nil, err
	}

	c.logger.Warn("completion failed, attempting fallback",
		"agent", agent.Name,
		"error", err,
	)
	for _, next := range c.selector.Rank(it) {
		if next.Name == agent.Name {
			continue
		}
		_, fallbackBackend, ok := c.registry.Get(next.Name)
		if !ok {
			continue
		}

		fallbackItems := items
		if c.checker != nil && next.PrivacyTier < agent.PrivacyTier {
			res := c.checker.Check(queryText, it, items, next)
			if res.Verdict == compliance.VerdictBlock {
				return nil, fmt.Errorf("fallback agent %s blocked by policy rule %s: %w", next.Name, res.Rule, err)
			}
			fallbackItems = res.Items
		}

		out, _, fbErr := c.attempt(ctx, next, fallbackBackend, backend.Request{Query: queryText, Context: fallbackItems}, delivered, emit)
		if fbErr != nil {
			return nil, fbErr
		}
		out.FellBack = true
		c.logger.Info("fallback completion succeeded",
			"agent", next.Name,
			"original", agent.Name,
		)
		return out, nil
	}
	return nil, err
}

// attempt runs one completion end to end, updating the descriptor's health
// and latency from the observed outcome. The first skip bytes of the stream
// are withheld from emit; a fallback attempt passes the byte count already
// delivered by the failed one so the caller's stream resumes past it. The
// returned int is the total byte count delivered to the caller so far.
func (c *Coordinator) attempt(ctx context.Context, desc *backend.Descriptor, b backend.Backend, req backend.Request, skip int, emit func(string)) (*Outcome, int, error) {
	start := time.Now()
	stream, err := b.Complete(ctx, req)
	if err != nil {
		desc.ReportFailure()
		return nil, skip, err
	}

	var sb strings.Builder
	delivered := skip
	for delta := range stream {
		if delta.Err != nil {
			health := desc.ReportFailure()
			c.logger.Warn("completion stream failed",
				"agent", desc.Name,
				"health", health.String(),
				"error", delta.Err,
			)
			return nil, delivered, delta.Err
		}
		if delta.Done {
			latency := time.Since(start)
			desc.ReportSuccess()
			desc.RecordLatency(latency)
			return &Outcome{
				Agent:        desc.Name,
				Response:     sb.String(),
				InputTokens:  delta.InputTokens,
				OutputTokens: delta.OutputTokens,
				CostUSD:      desc.Pricing.Cost(delta.InputTokens, delta.OutputTokens),
				Latency:      latency,
			}, delivered, nil
		}
		if delta.Text != "" {
			sb.WriteString(delta.Text)
			if n := sb.Len(); n > delivered {
				emit(delta.Text[len(delta.Text)-(n-delivered):])
				delivered = n
			}
		}
	}

	desc.ReportFailure()
	return nil, delivered, &backend.Error{
		Kind:  "protocol",
		Agent: desc.Name,
		Err:   errors.New("stream ended without completion"),
	}
}

// retryable reports whether a failure kind warrants trying another agent.
// Cancellation is the caller's decision and is never retried.
func retryable(err error) bool {
	var be *backend.Error
	if errors.As(err, &be) {
		return be.Kind != "canceled"
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
