// ABOUTME: Pipeline orchestrator driving a query through classify, cache,
// ABOUTME: assemble, select, compliance, execute, and store stages.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/loom-gateway/internal/assembler"
	"github.com/2389/loom-gateway/internal/backend"
	"github.com/2389/loom-gateway/internal/cache"
	"github.com/2389/loom-gateway/internal/compliance"
	"github.com/2389/loom-gateway/internal/coordinator"
	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/retriever"
	"github.com/2389/loom-gateway/internal/selector"
	"github.com/2389/loom-gateway/internal/store"
)

// State names the stage a query is in. States are recorded on the invocation
// row so a stalled or failed query can be diagnosed after the fact.
type State string

const (
	StateReceived        State = "received"
	StateClassifying     State = "classifying"
	StateCacheLookup     State = "cache_lookup"
	StateCacheHit        State = "cache_hit"
	StateCacheMiss       State = "cache_miss"
	StateContextAssembly State = "context_assembly"
	StateSelecting       State = "selecting"
	StateCompliance      State = "compliance_check"
	StateExecuting       State = "executing"
	StateStoring         State = "storing"
	StateCompleted       State = "completed"
	StateTerminated      State = "terminated"
	StateFailed          State = "failed"
)

// Query is one inbound request.
type Query struct {
	ID             string
	ConversationID string
	UserID         string
	Text           string
	AgentOverride  string
}

// EventType discriminates the events on a query's result stream.
type EventType string

const (
	EventChunk EventType = "chunk"
	EventDone  EventType = "done"
	EventError EventType = "error"
)

// Event is one increment of a query's result stream. Chunk events carry
// Text; the stream ends with exactly one Done or Error event.
type Event struct {
	Type EventType
	Text string
	Done *Summary
	Err  error
	Kind string // error kind for Err events
}

// Summary closes out a successful stream with the invocation accounting.
type Summary struct {
	InvocationID string
	Agent        string
	CacheHit     bool
	FellBack     bool
	Degraded     []string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Latency      time.Duration
}

// ErrComplianceBlocked is returned on the event stream when policy blocks a
// query. The policy reason travels in the wrapping error.
var ErrComplianceBlocked = errors.New("blocked by compliance policy")

// Orchestrator owns the query pipeline. It is the sole writer of the cache
// and of durable storage.
type Orchestrator struct {
	classifier      *intent.Classifier
	assembler       *assembler.Assembler
	cache           *cache.Cache
	selector        *selector.Selector
	checker         *compliance.Checker
	coordinator     *coordinator.Coordinator
	store           store.Store
	defaultCategory intent.Category
	logger          *slog.Logger
}

// Config wires the orchestrator's collaborators.
type Config struct {
	Classifier  *intent.Classifier
	Assembler   *assembler.Assembler
	Cache       *cache.Cache
	Selector    *selector.Selector
	Checker     *compliance.Checker
	Coordinator *coordinator.Coordinator
	Store       store.Store
	// DefaultCategory is substituted when classification is unavailable.
	DefaultCategory intent.Category
}

// New creates an orchestrator from its wired collaborators.
func New(cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	category := cfg.DefaultCategory
	if category == "" {
		category = intent.CategoryFactual
	}
	return &Orchestrator{
		classifier:      cfg.Classifier,
		assembler:       cfg.Assembler,
		cache:           cfg.Cache,
		selector:        cfg.Selector,
		checker:         cfg.Checker,
		coordinator:     cfg.Coordinator,
		store:           cfg.Store,
		defaultCategory: category,
		logger:          logger.With("component", "orchestrator"),
	}
}

// SubmitQuery runs the pipeline for one query. The returned channel streams
// chunk events as text arrives and closes after a terminal done or error
// event. Cancel ctx to abandon the stream; a computation shared with other
// callers keeps running.
func (o *Orchestrator) SubmitQuery(ctx context.Context, q Query) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		o.run(ctx, &q, events)
	}()
	return events
}

func (o *Orchestrator) run(ctx context.Context, q *Query, events chan<- Event) {
	logger := o.logger.With("invocation_id", q.ID, "conversation_id", q.ConversationID)
	logger.Info("query received", "override", q.AgentOverride)

	inv := &store.Invocation{
		ID:             q.ID,
		ConversationID: q.ConversationID,
		Query:          q.Text,
		State:          string(StateReceived),
	}

	// Classification degrades to a default intent rather than failing.
	inv.State = string(StateClassifying)
	it, err := o.classifier.Classify(ctx, q.Text)
	if err != nil {
		logger.Warn("classification unavailable, using default intent", "error", err)
		it = intent.Default(o.defaultCategory, 0.1)
	}
	if q.UserID != "" {
		if it.Params == nil {
			it.Params = make(map[string]string)
		}
		it.Params["user_id"] = q.UserID
	}
	inv.IntentCategory = string(it.Category)

	// Fast-path lookup keyed without the context fingerprint: a repeat of
	// the same normalized query under the same intent and override replays
	// the cached response without re-assembling context.
	inv.State = string(StateCacheLookup)
	norm := cache.NormalizeQuery(q.Text)
	fastKey := cache.FastKey(norm, string(it.Category), q.AgentOverride, q.UserID)
	if entry, ok := o.cache.Lookup(fastKey); ok {
		inv.State = string(StateCacheHit)
		logger.Info("cache hit", "agent", entry.Agent)
		o.finish(ctx, q, inv, entry, true, false, true, events, logger)
		return
	}
	inv.State = string(StateCacheMiss)

	inv.State = string(StateContextAssembly)
	bundle := o.assembler.Assemble(ctx, q.Text, it)
	items := bundle.Items

	inv.State = string(StateSelecting)
	agent, err := o.selector.Select(it, q.AgentOverride)
	if err != nil {
		o.fail(ctx, q, inv, "no_agent", err, events, logger)
		return
	}
	inv.Agent = agent.Name
	overridden := q.AgentOverride != "" && q.AgentOverride == agent.Name

	inv.State = string(StateCompliance)
	fp := bundle.Fingerprint
	if o.checker != nil {
		res := o.checker.Check(q.Text, it, items, agent)
		switch res.Verdict {
		case compliance.VerdictBlock:
			inv.State = string(StateTerminated)
			inv.ErrorKind = "compliance_blocked"
			o.recordInvocation(ctx, inv, logger)
			logger.Info("query blocked", "rule", res.Rule)
			select {
			case events <- Event{
				Type: EventError,
				Kind: "blocked",
				Err:  fmt.Errorf("%w: %s", ErrComplianceBlocked, res.Reason),
			}:
			case <-ctx.Done():
			}
			return
		case compliance.VerdictRedact:
			items = res.Items
			fp = assembler.Fingerprint(items, it)
			logger.Info("context redacted",
				"rule", res.Rule,
				"removed", len(res.RedactedProvenance),
			)
		}
	}

	inv.State = string(StateExecuting)
	inv.DegradedSrcs = bundle.Degraded
	key := cache.Key(norm, string(it.Category), agent.Name, fp)

	var fellBack bool
	entry, replayed, err := o.cache.GetOrCompute(ctx, key, fastKey, func(cctx context.Context) (*cache.Entry, error) {
		out, execErr := o.coordinator.Execute(cctx, q.Text, it, items, agent, overridden, func(text string) {
			select {
			case events <- Event{Type: EventChunk, Text: text}:
			case <-ctx.Done():
			}
		})
		if execErr != nil {
			return nil, execErr
		}
		fellBack = out.FellBack
		// Keyed on the agent that answered, which differs from the
		// selected one after a fallback.
		return &cache.Entry{
			Key:          cache.Key(norm, string(it.Category), out.Agent, fp),
			Agent:        out.Agent,
			Response:     out.Response,
			Provenance:   provenance(items),
			InputTokens:  out.InputTokens,
			OutputTokens: out.OutputTokens,
			CostUSD:      out.CostUSD,
			Latency:      out.Latency,
		}, nil
	})
	if err != nil {
		o.fail(ctx, q, inv, errorKind(err), err, events, logger)
		return
	}

	o.finish(ctx, q, inv, entry, false, fellBack, replayed, events, logger)
}

// finish replays the response if it did not stream live, persists the
// interaction, and closes the stream with a done event.
func (o *Orchestrator) finish(ctx context.Context, q *Query, inv *store.Invocation, entry *cache.Entry, cacheHit, fellBack, replayed bool, events chan<- Event, logger *slog.Logger) {
	// A caller gone mid-replay still gets its invocation recorded below.
	if cacheHit || replayed {
		select {
		case events <- Event{Type: EventChunk, Text: entry.Response}:
		case <-ctx.Done():
		}
	}

	inv.State = string(StateStoring)
	inv.Agent = entry.Agent
	inv.CacheHit = cacheHit
	inv.InputTokens = entry.InputTokens
	inv.OutputTokens = entry.OutputTokens
	inv.CostUSD = entry.CostUSD
	inv.Latency = entry.Latency
	o.persist(ctx, q, inv, entry, logger)

	inv.State = string(StateCompleted)
	logger.Info("query completed",
		"agent", entry.Agent,
		"cache_hit", cacheHit,
		"fell_back", fellBack,
		"cost_usd", entry.CostUSD,
	)
	select {
	case events <- Event{Type: EventDone, Done: &Summary{
		InvocationID: q.ID,
		Agent:        entry.Agent,
		CacheHit:     cacheHit,
		FellBack:     fellBack,
		Degraded:     inv.DegradedSrcs,
		InputTokens:  entry.InputTokens,
		OutputTokens: entry.OutputTokens,
		CostUSD:      entry.CostUSD,
		Latency:      entry.Latency,
	}}:
	case <-ctx.Done():
	}
}

// persist appends both sides of the exchange and the invocation record.
// Storage failures are logged and never fail a delivered response.
func (o *Orchestrator) persist(ctx context.Context, q *Query, inv *store.Invocation, entry *cache.Entry, logger *slog.Logger) {
	if o.store == nil {
		return
	}
	sctx := context.WithoutCancel(ctx)
	if q.ConversationID != "" {
		if _, err := o.store.AppendMessage(sctx, q.ConversationID, q.UserID, "user", q.Text, nil); err != nil {
			logger.Error("failed to store user message", "error", err)
		}
		meta := map[string]string{"agent": entry.Agent, "invocation_id": q.ID}
		if _, err := o.store.AppendMessage(sctx, q.ConversationID, q.UserID, "assistant", entry.Response, meta); err != nil {
			logger.Error("failed to store assistant message", "error", err)
		}
	}
	o.recordInvocation(sctx, inv, logger)
}

func (o *Orchestrator) recordInvocation(ctx context.Context, inv *store.Invocation, logger *slog.Logger) {
	if o.store == nil {
		return
	}
	if err := o.store.RecordInvocation(context.WithoutCancel(ctx), inv); err != nil {
		logger.Error("failed to record invocation", "error", err)
	}
}

// fail records the terminal state and emits the error event.
func (o *Orchestrator) fail(ctx context.Context, q *Query, inv *store.Invocation, kind string, err error, events chan<- Event, logger *slog.Logger) {
	inv.State = string(StateFailed)
	inv.ErrorKind = kind
	o.recordInvocation(ctx, inv, logger)
	logger.Warn("query failed", "kind", kind, "error", err)
	select {
	case events <- Event{Type: EventError, Kind: kind, Err: err}:
	case <-ctx.Done():
	}
}

// provenance collects the provenance IDs of the items an entry was built on.
func provenance(items []retriever.Item) []string {
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.Provenance
	}
	return ids
}

// errorKind maps a pipeline error to the kind reported on the stream and
// recorded on the invocation row.
func errorKind(err error) string {
	var be *backend.Error
	switch {
	case errors.Is(err, selector.ErrNoAgentAvailable):
		return "no_agent"
	case errors.As(err, &be):
		return be.Kind
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}
