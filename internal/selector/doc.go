// Package selector ranks completion backends by intent affinity, cost, and
// observed latency, honoring explicit per-request overrides.
package selector
