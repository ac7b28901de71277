// ABOUTME: Completion backend contract, agent descriptors, and health state.
// ABOUTME: Health updates are atomic read-modify-write, shared across invocations.

package backend

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/retriever"
)

// Health is the observed availability of a completion backend.
type Health int32

const (
	HealthHealthy Health = iota
	HealthDegraded
	HealthUnavailable
)

func (h Health) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// failureThreshold is the consecutive-failure count at which a backend is
// marked unavailable instead of merely degraded.
const failureThreshold = 3

// Pricing is USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// Cost converts token counts to USD using this pricing.
func (p Pricing) Cost(inputTokens, outputTokens int64) float64 {
	return p.InputPerM*float64(inputTokens)/1_000_000 + p.OutputPerM*float64(outputTokens)/1_000_000
}

// Descriptor identifies one completion backend: its capability tags, privacy
// tier, cost, and current health. Descriptors are long-lived and shared
// read-mostly across invocations; health and latency are mutated atomically
// by the execution coordinator on observed outcomes.
type Descriptor struct {
	Name         string
	Capabilities []string
	PrivacyTier  int // higher tier = stronger privacy guarantees
	Pricing      Pricing
	Affinity     map[intent.Category]float64

	health    atomic.Int32
	failures  atomic.Int32
	latencyNs atomic.Int64 // EWMA of observed completion latency
}

// Health returns the current health status.
func (d *Descriptor) Health() Health {
	return Health(d.health.Load())
}

// SetHealth forcibly sets the health status and clears the failure count.
func (d *Descriptor) SetHealth(h Health) {
	d.health.Store(int32(h))
	d.failures.Store(0)
}

// ReportFailure records a failed completion and returns the new health:
// degraded on the first failures, unavailable once the consecutive-failure
// threshold is reached. Safe under concurrent failure reports.
func (d *Descriptor) ReportFailure() Health {
	n := d.failures.Add(1)
	next := HealthDegraded
	if n >= failureThreshold {
		next = HealthUnavailable
	}
	for {
		cur := d.health.Load()
		// Never upgrade health on a failure report.
		if Health(cur) >= next {
			return Health(cur)
		}
		if d.health.CompareAndSwap(cur, int32(next)) {
			return next
		}
	}
}

// ReportSuccess records a successful completion, resetting health to healthy.
func (d *Descriptor) ReportSuccess() {
	d.failures.Store(0)
	d.health.Store(int32(HealthHealthy))
}

// RecordLatency folds one observed completion latency into the moving
// average used by the selector.
func (d *Descriptor) RecordLatency(observed time.Duration) {
	for {
		prev := d.latencyNs.Load()
		next := observed.Nanoseconds()
		if prev > 0 {
			next = (prev*3 + next) / 4
		}
		if d.latencyNs.CompareAndSwap(prev, next) {
			return
		}
	}
}

// AvgLatency returns the moving-average completion latency, zero if no
// completion has been observed yet.
func (d *Descriptor) AvgLatency() time.Duration {
	return time.Duration(d.latencyNs.Load())
}

// AffinityFor returns this backend's affinity for an intent category.
func (d *Descriptor) AffinityFor(category intent.Category) float64 {
	if d.Affinity == nil {
		return 0
	}
	return d.Affinity[category]
}

// Request is one completion request: the user query plus its assembled
// context items.
type Request struct {
	Query   string
	Context []retriever.Item
}

// Delta is one increment of streamed backend output. The stream terminates
// with either Done (carrying token totals) or Err.
type Delta struct {
	Text         string
	Done         bool
	InputTokens  int64
	OutputTokens int64
	Err          error
}

// Backend is a pluggable completion provider.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (<-chan Delta, error)
	HealthCheck(ctx context.Context) error
}

// Error is a typed backend failure carrying the failure kind for retry and
// telemetry decisions.
type Error struct {
	Kind  string // "timeout", "overloaded", "protocol", "canceled", "unknown"
	Agent string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Agent, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
