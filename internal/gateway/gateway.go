// ABOUTME: HTTP gateway serving the query API with graceful lifecycle management.
// ABOUTME: Owns the server loop, health endpoints, and coordinated shutdown.

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/2389/loom-gateway/internal/backend"
	"github.com/2389/loom-gateway/internal/cache"
	"github.com/2389/loom-gateway/internal/orchestrator"
	"github.com/2389/loom-gateway/internal/store"
)

const defaultShutdownTimeout = 5 * time.Second

// Config holds the gateway's listen address and shutdown budget.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
}

// Gateway is the HTTP front of the pipeline.
type Gateway struct {
	cfg          Config
	orchestrator *orchestrator.Orchestrator
	registry     *backend.Registry
	cache        *cache.Cache
	store        store.Store
	httpServer   *http.Server
	logger       *slog.Logger
}

// New creates a gateway serving the orchestrator over HTTP.
func New(cfg Config, o *orchestrator.Orchestrator, registry *backend.Registry, responseCache *cache.Cache, s store.Store, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	g := &Gateway{
		cfg:          cfg,
		orchestrator: o,
		registry:     registry,
		cache:        responseCache,
		store:        s,
		logger:       logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/query", g.handleQuery)
	mux.HandleFunc("/api/conversations/", g.handleConversationMessages)
	mux.HandleFunc("/api/cache/invalidate", g.handleInvalidate)
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	g.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// Run serves HTTP until ctx is canceled or the server fails, then performs
// a graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", g.cfg.HTTPAddr, err)
	}

	errCh := g.startServer(ln)
	serverErr := g.waitForShutdownSignal(ctx, errCh)

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// startServer starts the HTTP server in a goroutine, returning error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	return errCh
}

// waitForShutdownSignal waits for context cancellation or server error.
func (g *Gateway) waitForShutdownSignal(ctx context.Context, errCh chan error) error {
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
		return nil
	case err := <-errCh:
		g.logger.Error("server error", "error", err)
		return err
	}
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.cache != nil {
		g.cache.Close()
	}
	if g.store != nil {
		errs = appendCloseError(errs, "store close", g.store.Close())
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one completion backend is usable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.registry.Available() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no agents available"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d agents)", len(g.registry.List()))
}
