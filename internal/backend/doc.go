// Package backend defines the completion backend contract and its registry.
//
// # Backends
//
// A Backend streams completion deltas for a request. Implementations:
//
//   - Anthropic: Claude models over the official SDK
//   - Echo: deterministic local backend for development and tests
//
// # Descriptors and Health
//
// Each backend registers with a Descriptor carrying its privacy tier,
// pricing, and per-category affinity. Health and latency live on the
// descriptor and are mutated atomically by the execution coordinator:
// consecutive failures degrade a backend and eventually mark it
// unavailable, a success restores it. The selector reads the same
// descriptors when ranking.
package backend
