// ABOUTME: Tests for the HTTP query API and cache invalidation endpoints.
// ABOUTME: Exercises SSE framing, validation errors, and readiness checks.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom-gateway/internal/assembler"
	"github.com/2389/loom-gateway/internal/backend"
	"github.com/2389/loom-gateway/internal/cache"
	"github.com/2389/loom-gateway/internal/coordinator"
	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/orchestrator"
	"github.com/2389/loom-gateway/internal/selector"
	"github.com/2389/loom-gateway/internal/store"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	return newTestGatewayWithStore(t, nil)
}

func newTestGatewayWithStore(t *testing.T, s store.Store) *Gateway {
	t.Helper()

	registry := backend.NewRegistry(nil)
	desc := &backend.Descriptor{
		Name:     "echo",
		Affinity: map[intent.Category]float64{intent.CategoryFactual: 0.5},
	}
	require.NoError(t, registry.Register(desc, backend.NewEcho("echo", 0)))

	sel := selector.New(registry, selector.DefaultWeights, nil, nil)
	responseCache := cache.New(time.Minute, 100)
	t.Cleanup(responseCache.Close)

	o := orchestrator.New(orchestrator.Config{
		Classifier:  intent.NewClassifier(nil, nil),
		Assembler:   assembler.New(nil, assembler.Config{}, nil),
		Cache:       responseCache,
		Selector:    sel,
		Coordinator: coordinator.New(registry, sel, nil, nil),
	}, nil)

	return New(Config{HTTPAddr: "127.0.0.1:0"}, o, registry, responseCache, s, nil)
}

func postJSON(t *testing.T, g *Gateway, path string, body interface{}, handler http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestHandleQuery_StreamsSSE(t *testing.T) {
	g := newTestGateway(t)

	rec := postJSON(t, g, "/api/query", QueryRequest{Query: "hello world"}, g.handleQuery)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: chunk")
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, `"agent":"echo"`)
}

func TestHandleQuery_InvalidJSON(t *testing.T) {
	g := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	g.handleQuery(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "parsing request")
}

func TestHandleQuery_EmptyQuery(t *testing.T) {
	g := newTestGateway(t)

	rec := postJSON(t, g, "/api/query", QueryRequest{Query: "   "}, g.handleQuery)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query is required")
}

func TestHandleQuery_MethodNotAllowed(t *testing.T) {
	g := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/api/query", nil)
	rec := httptest.NewRecorder()
	g.handleQuery(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleQuery_UnknownOverrideStreamsError(t *testing.T) {
	g := newTestGateway(t)

	rec := postJSON(t, g, "/api/query", QueryRequest{Query: "hello", Agent: "nonexistent"}, g.handleQuery)

	// Override of an unknown agent falls back to automatic selection.
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: done")
}

func TestHandleInvalidate(t *testing.T) {
	g := newTestGateway(t)

	// Prime the cache through a query, then drop everything.
	rec := postJSON(t, g, "/api/query", QueryRequest{Query: "cache me"}, g.handleQuery)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, g.cache.Len())

	rec = postJSON(t, g, "/api/cache/invalidate", InvalidateRequest{All: true}, g.handleInvalidate)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"removed":1`)
	assert.Equal(t, 0, g.cache.Len())
}

func TestHandleInvalidate_ByAgent(t *testing.T) {
	g := newTestGateway(t)

	rec := postJSON(t, g, "/api/query", QueryRequest{Query: "cache me"}, g.handleQuery)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postJSON(t, g, "/api/cache/invalidate", InvalidateRequest{Agent: "other"}, g.handleInvalidate)
	assert.Contains(t, rec.Body.String(), `"removed":0`)

	rec = postJSON(t, g, "/api/cache/invalidate", InvalidateRequest{Agent: "echo"}, g.handleInvalidate)
	assert.Contains(t, rec.Body.String(), `"removed":1`)
}

func TestHandleInvalidate_RequiresFilter(t *testing.T) {
	g := newTestGateway(t)

	rec := postJSON(t, g, "/api/cache/invalidate", InvalidateRequest{}, g.handleInvalidate)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleHealth(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReady(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	for _, d := range g.registry.List() {
		d.SetHealth(backend.HealthUnavailable)
	}
	rec = httptest.NewRecorder()
	g.handleReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func newHistoryStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "loom.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestHandleConversationMessages_ReturnsHistory(t *testing.T) {
	s := newHistoryStore(t)
	ctx := context.Background()
	_, err := s.AppendMessage(ctx, "conv-1", "u1", "user", "what is loom?", nil)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, "conv-1", "u1", "assistant", "a gateway", map[string]string{"agent": "echo"})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, "conv-2", "u1", "user", "unrelated", nil)
	require.NoError(t, err)

	g := newTestGatewayWithStore(t, s)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages", nil)
	rec := httptest.NewRecorder()
	g.handleConversationMessages(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ConversationMessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "conv-1", resp.ConversationID)
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "user", resp.Messages[0].Role)
	assert.Equal(t, "what is loom?", resp.Messages[0].Content)
	assert.Equal(t, "assistant", resp.Messages[1].Role)
	assert.Equal(t, "echo", resp.Messages[1].Metadata["agent"])
}

func TestHandleConversationMessages_RespectsLimit(t *testing.T) {
	s := newHistoryStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.AppendMessage(ctx, "conv-1", "u1", "user", "msg", nil)
		require.NoError(t, err)
	}

	g := newTestGatewayWithStore(t, s)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages?limit=2", nil)
	rec := httptest.NewRecorder()
	g.handleConversationMessages(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ConversationMessagesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 2)
}

func TestHandleConversationMessages_BadRequests(t *testing.T) {
	g := newTestGatewayWithStore(t, newHistoryStore(t))

	tests := []struct {
		name string
		path string
	}{
		{"missing suffix", "/api/conversations/conv-1"},
		{"empty id", "/api/conversations//messages"},
		{"nested id", "/api/conversations/a/b/messages"},
		{"bad limit", "/api/conversations/conv-1/messages?limit=zero"},
		{"negative limit", "/api/conversations/conv-1/messages?limit=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			g.handleConversationMessages(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleConversationMessages_MethodNotAllowed(t *testing.T) {
	g := newTestGatewayWithStore(t, newHistoryStore(t))
	req := httptest.NewRequest(http.MethodPost, "/api/conversations/conv-1/messages", nil)
	rec := httptest.NewRecorder()
	g.handleConversationMessages(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleConversationMessages_NoStore(t *testing.T) {
	g := newTestGateway(t)
	req := httptest.NewRequest(http.MethodGet, "/api/conversations/conv-1/messages", nil)
	rec := httptest.NewRecorder()
	g.handleConversationMessages(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
