// Package gateway exposes the query pipeline over HTTP.
//
// # HTTP API
//
//   - POST /api/query - Submit a query (SSE streaming response)
//   - GET /api/conversations/{id}/messages - Conversation history
//   - POST /api/cache/invalidate - Drop cached responses by filter
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (at least one usable backend)
//
// # SSE Streaming
//
// Responses are streamed as Server-Sent Events:
//
//	event: chunk
//	data: {"text": "Hello"}
//
//	event: done
//	data: {"invocation_id": "...", "agent": "claude", "cache_hit": false, ...}
//
//	event: error
//	data: {"kind": "blocked", "error": "..."}
//
// # Lifecycle
//
// Run serves until the context is canceled or the server fails, then shuts
// down gracefully within the configured timeout, closing the cache and the
// store on the way out.
package gateway
