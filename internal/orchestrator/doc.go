// Package orchestrator drives a query through the full pipeline.
//
// # Pipeline
//
// Each query moves through a fixed sequence of states:
//
//	Received -> Classifying -> CacheLookup
//	  cache hit:  CacheHit -> Storing -> Completed
//	  cache miss: CacheMiss -> ContextAssembly -> Selecting ->
//	              ComplianceCheck -> Executing -> Storing -> Completed
//
// A compliance block moves the query to Terminated; Failed is reachable
// from any stage. The current state is recorded on the invocation row.
//
// # Degradation
//
// The pipeline prefers a worse answer over no answer: an unavailable
// classifier substitutes a default intent, a failed retriever flags its
// source as degraded, and a failed auto-selected backend gets one fallback
// attempt. Only no-agent-available and a compliance block are terminal.
//
// # Caching
//
// The orchestrator is the sole writer of the response cache. Lookups happen
// twice: a fast key over the normalized query, intent category, agent
// override, and requesting user before context assembly, and a full key
// that additionally binds the answering agent and context fingerprint at
// execution time. The full key is where concurrent identical queries
// collapse into one computation.
// Results are cached only after a compliance-approved completion.
//
// # Streaming
//
// SubmitQuery returns an event channel: chunk events as text arrives, then
// exactly one done or error event. Replayed (cached or shared) responses
// arrive as a single chunk.
package orchestrator
