// ABOUTME: Minimal echo backend for local development and E2E testing.
// ABOUTME: Streams a word-by-word summary of the query and its context items.

package backend

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Echo is a completion backend that needs no external service. It streams
// the query back word by word, followed by a one-line mention of each
// context item, which makes pipeline behavior observable end to end.
type Echo struct {
	name  string
	delay time.Duration
}

// NewEcho creates an echo backend. delay spaces out the streamed words so
// incremental delivery is visible; zero disables it.
func NewEcho(name string, delay time.Duration) *Echo {
	if name == "" {
		name = "echo"
	}
	return &Echo{name: name, delay: delay}
}

func (e *Echo) Name() string { return e.name }

// HealthCheck always succeeds; the echo backend has no dependencies.
func (e *Echo) HealthCheck(ctx context.Context) error { return nil }

func (e *Echo) Complete(ctx context.Context, req Request) (<-chan Delta, error) {
	out := make(chan Delta, 16)
	go func() {
		defer close(out)

		var outputTokens int64
		words := strings.Fields("You asked: " + req.Query)
		for i, item := range req.Context {
			line := fmt.Sprintf("[%s #%d] %s", item.Source, i+1, item.Content)
			words = append(words, strings.Fields(line)...)
		}

		for _, word := range words {
			if e.delay > 0 {
				select {
				case <-time.After(e.delay):
				case <-ctx.Done():
					out <- Delta{Err: &Error{Kind: "canceled", Agent: e.name, Err: ctx.Err()}}
					return
				}
			}
			select {
			case out <- Delta{Text: word + " "}:
				outputTokens++
			case <-ctx.Done():
				out <- Delta{Err: &Error{Kind: "canceled", Agent: e.name, Err: ctx.Err()}}
				return
			}
		}
		out <- Delta{Done: true, InputTokens: int64(len(strings.Fields(req.Query))), OutputTokens: outputTokens}
	}()
	return out, nil
}
