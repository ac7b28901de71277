// ABOUTME: HTTP API handlers for query submission and cache invalidation.
// ABOUTME: Streams pipeline events to clients as server-sent events.

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/loom-gateway/internal/cache"
	"github.com/2389/loom-gateway/internal/orchestrator"
)

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	Query          string `json:"query"`
	Agent          string `json:"agent,omitempty"` // explicit backend override
}

// InvalidateRequest is the body of POST /api/cache/invalidate.
type InvalidateRequest struct {
	// ProvenancePrefix removes entries built on matching context items,
	// e.g. "record:" after a reimport of financial data.
	ProvenancePrefix string `json:"provenance_prefix,omitempty"`
	// Agent removes entries answered by the named backend.
	Agent string `json:"agent,omitempty"`
	// All removes every entry.
	All bool `json:"all,omitempty"`
}

// doneEvent is the SSE payload closing a successful stream.
type doneEvent struct {
	InvocationID string   `json:"invocation_id"`
	Agent        string   `json:"agent"`
	CacheHit     bool     `json:"cache_hit"`
	FellBack     bool     `json:"fell_back"`
	Degraded     []string `json:"degraded,omitempty"`
	InputTokens  int64    `json:"input_tokens"`
	OutputTokens int64    `json:"output_tokens"`
	CostUSD      float64  `json:"cost_usd"`
	LatencyMS    int64    `json:"latency_ms"`
}

func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := parseQueryRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	// Check streaming support before sending (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	events := g.orchestrator.SubmitQuery(r.Context(), orchestrator.Query{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Text:           req.Query,
		AgentOverride:  req.Agent,
	})

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.streamEvents(r.Context(), w, flusher, events)
}

// streamEvents reads pipeline events and writes SSE events until a terminal
// done or error event arrives.
func (g *Gateway) streamEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan orchestrator.Event) {
	for {
		select {
		case <-ctx.Done():
			g.writeSSEEvent(w, "error", map[string]string{"error": "request cancelled"})
			flusher.Flush()
			return

		case ev, ok := <-events:
			if !ok {
				return
			}

			switch ev.Type {
			case orchestrator.EventChunk:
				g.writeSSEEvent(w, "chunk", map[string]string{"text": ev.Text})
			case orchestrator.EventDone:
				g.writeSSEEvent(w, "done", doneEvent{
					InvocationID: ev.Done.InvocationID,
					Agent:        ev.Done.Agent,
					CacheHit:     ev.Done.CacheHit,
					FellBack:     ev.Done.FellBack,
					Degraded:     ev.Done.Degraded,
					InputTokens:  ev.Done.InputTokens,
					OutputTokens: ev.Done.OutputTokens,
					CostUSD:      ev.Done.CostUSD,
					LatencyMS:    ev.Done.Latency.Milliseconds(),
				})
				flusher.Flush()
				return
			case orchestrator.EventError:
				g.writeSSEEvent(w, "error", map[string]string{
					"kind":  ev.Kind,
					"error": ev.Err.Error(),
				})
				flusher.Flush()
				return
			}
			flusher.Flush()
		}
	}
}

func (g *Gateway) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req InvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("parsing request: %v", err))
		return
	}
	if !req.All && req.ProvenancePrefix == "" && req.Agent == "" {
		g.sendJSONError(w, http.StatusBadRequest, "must specify all, provenance_prefix, or agent")
		return
	}

	removed := g.cache.Invalidate(func(e *cache.Entry) bool {
		if req.All {
			return true
		}
		if req.Agent != "" && e.Agent == req.Agent {
			return true
		}
		if req.ProvenancePrefix != "" {
			for _, p := range e.Provenance {
				if strings.HasPrefix(p, req.ProvenancePrefix) {
					return true
				}
			}
		}
		return false
	})

	g.logger.Info("cache invalidated",
		"removed", removed,
		"provenance_prefix", req.ProvenancePrefix,
		"agent", req.Agent,
		"all", req.All,
	)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"removed": removed})
}

// MessageResponse is one conversation message in a history response.
type MessageResponse struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
}

// ConversationMessagesResponse is the body of GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// handleConversationMessages handles GET /api/conversations/{id}/messages.
func (g *Gateway) handleConversationMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Extract conversation ID from path: /api/conversations/{id}/messages
	path := r.URL.Path
	prefix := "/api/conversations/"
	suffix := "/messages"

	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		g.sendJSONError(w, http.StatusBadRequest, "invalid path")
		return
	}

	conversationID := strings.TrimSuffix(strings.TrimPrefix(path, prefix), suffix)
	if conversationID == "" || strings.Contains(conversationID, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "conversation_id is required")
		return
	}

	// Parse optional limit parameter (default 50, max 1000)
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > 1000 {
			limit = 1000
		}
	}

	if g.store == nil {
		g.sendJSONError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	messages, err := g.store.GetMessages(r.Context(), conversationID, limit)
	if err != nil {
		g.logger.Error("failed to get messages", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ConversationMessagesResponse{
		ConversationID: conversationID,
		Messages:       make([]MessageResponse, len(messages)),
	}
	for i, msg := range messages {
		response.Messages[i] = MessageResponse{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Metadata:  msg.Metadata,
			CreatedAt: msg.CreatedAt.Format(time.RFC3339),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// parseQueryRequest decodes and validates a query submission.
func parseQueryRequest(r io.Reader) (*QueryRequest, error) {
	var req QueryRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("parsing request: %w", err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	return &req, nil
}

// writeSSEEvent writes one event: <type>\ndata: <json>\n\n frame.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data interface{}) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "event", event, "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response with the given status.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
