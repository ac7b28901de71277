// ABOUTME: Entry point for the loom-gateway request orchestration server
// ABOUTME: Wires the pipeline components from configuration and serves HTTP

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/redis/go-redis/v9"

	"github.com/2389/loom-gateway/internal/assembler"
	"github.com/2389/loom-gateway/internal/backend"
	"github.com/2389/loom-gateway/internal/cache"
	"github.com/2389/loom-gateway/internal/compliance"
	"github.com/2389/loom-gateway/internal/config"
	"github.com/2389/loom-gateway/internal/coordinator"
	"github.com/2389/loom-gateway/internal/gateway"
	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/orchestrator"
	"github.com/2389/loom-gateway/internal/retriever"
	"github.com/2389/loom-gateway/internal/selector"
	"github.com/2389/loom-gateway/internal/store"

	anthropic "github.com/anthropics/anthropic-sdk-go"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| | ___   ___  _ __ ___
| |/ _ \ / _ \| '_ ` + "`" + ` _ \
| | (_) | (_) | | | | | |
|_|\___/ \___/|_| |_| |_|
        gateway
`

// getConfigPath returns the path to the gateway config file.
// Priority: LOOM_CONFIG env var > XDG_CONFIG_HOME/loom/gateway.yaml > ~/.config/loom/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("LOOM_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "loom", "gateway.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: loom-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve     Start the gateway server")
		fmt.Println("  health    Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Compliance.PolicyPath != "" {
		green.Print("    ▶ ")
		fmt.Printf("Policy:    %s\n", cfg.Compliance.PolicyPath)
	}
	fmt.Println()

	// Durable storage
	sqlStore, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	// Context source retrievers
	retrievers := []retriever.Retriever{
		retriever.NewMessages(sqlStore, cfg.Assembler.MaxItems),
		retriever.NewEvents(sqlStore, cfg.Assembler.MaxItems),
		retriever.NewRecords(sqlStore, cfg.Assembler.MaxItems),
	}
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, memory retriever will degrade", "error", err)
		}
		retrievers = append(retrievers, retriever.NewMemory(redisClient, cfg.Assembler.MaxItems))
	}

	// Completion backends
	registry := backend.NewRegistry(logger)
	if err := registerAgents(registry, cfg.Agents); err != nil {
		return err
	}

	// Compliance policy
	var checker *compliance.Checker
	if cfg.Compliance.PolicyPath != "" {
		checker, err = compliance.NewChecker(cfg.Compliance.PolicyPath, logger)
		if err != nil {
			return fmt.Errorf("loading compliance policy: %w", err)
		}
		if cfg.Compliance.HotReload {
			go func() {
				if err := checker.Watch(ctx); err != nil {
					logger.Error("policy watcher stopped", "error", err)
				}
			}()
		}
	}

	sel := selector.New(registry, cfg.Selector.Weights(), cfg.Selector.Preference, logger)
	responseCache := cache.New(cfg.Cache.TTL, cfg.Cache.MaxSize)

	o := orchestrator.New(orchestrator.Config{
		Classifier: intent.NewClassifier(nil, logger),
		Assembler: assembler.New(retrievers, assembler.Config{
			RetrieverTimeout: cfg.Assembler.RetrieverTimeout,
			MaxItems:         cfg.Assembler.MaxItems,
			ByteBudget:       cfg.Assembler.ByteBudget,
		}, logger),
		Cache:           responseCache,
		Selector:        sel,
		Checker:         checker,
		Coordinator:     coordinator.New(registry, sel, checker, logger),
		Store:           sqlStore,
		DefaultCategory: intent.Category(cfg.Intent.DefaultCategory),
	}, logger)

	gw := gateway.New(gateway.Config{
		HTTPAddr:        cfg.Server.HTTPAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, o, registry, responseCache, sqlStore, logger)

	logger.Info("starting loom-gateway", "version", version)
	return gw.Run(ctx)
}

// registerAgents builds and registers one backend per configured agent.
func registerAgents(registry *backend.Registry, agents []config.AgentConfig) error {
	for _, a := range agents {
		var (
			b   backend.Backend
			err error
		)
		switch a.Kind {
		case "anthropic":
			b, err = backend.NewAnthropic(backend.AnthropicConfig{
				Name:      a.Name,
				Model:     anthropic.Model(a.Model),
				APIKey:    a.APIKey,
				MaxTokens: int64(a.MaxTokens),
			})
			if err != nil {
				return fmt.Errorf("agent %s: %w", a.Name, err)
			}
		case "echo":
			b = backend.NewEcho(a.Name, 0)
		default:
			return fmt.Errorf("agent %s: unknown kind %q", a.Name, a.Kind)
		}
		if err := registry.Register(a.Descriptor(), b); err != nil {
			return fmt.Errorf("agent %s: %w", a.Name, err)
		}
	}
	return nil
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("Gateway is healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
