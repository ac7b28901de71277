// ABOUTME: Anthropic API completion backend with streamed output.
// ABOUTME: Maps Claude message stream events onto the Delta channel contract.

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic backend.
type AnthropicConfig struct {
	// Name is the registry name for this backend instance.
	Name string
	// Model is the Claude model to use.
	Model anthropic.Model
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
	// MaxTokens caps the completion length.
	MaxTokens int64
}

// Anthropic is a completion backend over the Anthropic Messages API.
type Anthropic struct {
	name      string
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(cfg AnthropicConfig) (*Anthropic, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaude3_5Haiku20241022
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	name := cfg.Name
	if name == "" {
		name = string(model)
	}

	return &Anthropic{
		name:      name,
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: maxTokens,
	}, nil
}

func (a *Anthropic) Name() string { return a.name }

// HealthCheck verifies API reachability with a models lookup.
func (a *Anthropic) HealthCheck(ctx context.Context) error {
	_, err := a.client.Models.Get(ctx, string(a.model), anthropic.ModelGetParams{})
	if err != nil {
		return fmt.Errorf("model lookup: %w", err)
	}
	return nil
}

const systemPrompt = "You are a personal assistant answering from the user's own data. " +
	"Context items retrieved for this query are listed before the question; " +
	"cite them where relevant and say so plainly when the context does not cover the question."

// buildPrompt renders the context items ahead of the user query.
func buildPrompt(req Request) string {
	if len(req.Context) == 0 {
		return req.Query
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	for _, item := range req.Context {
		fmt.Fprintf(&b, "- (%s, %s) %s\n", item.Source, item.Provenance, item.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(req.Query)
	return b.String()
}

func (a *Anthropic) Complete(ctx context.Context, req Request) (<-chan Delta, error) {
	stream := a.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
	})

	out := make(chan Delta, 16)
	go func() {
		defer close(out)
		defer stream.Close()

		var message anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- Delta{Err: &Error{Kind: "protocol", Agent: a.name, Err: err}}
				return
			}
			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
					select {
					case out <- Delta{Text: delta.Text}:
					case <-ctx.Done():
						out <- Delta{Err: &Error{Kind: "canceled", Agent: a.name, Err: ctx.Err()}}
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- Delta{Err: &Error{Kind: classifyError(err), Agent: a.name, Err: err}}
			return
		}
		out <- Delta{
			Done:         true,
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		}
	}()
	return out, nil
}

// classifyError maps transport/API failures to backend error kinds.
func classifyError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 529:
			return "overloaded"
		case 500, 502, 503, 504:
			return "unavailable"
		}
	}
	return "unknown"
}
