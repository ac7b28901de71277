// ABOUTME: Configuration loading and parsing for loom-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/loom-gateway/internal/backend"
	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/selector"
)

// Config represents the complete loom-gateway configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Assembler  AssemblerConfig  `yaml:"assembler"`
	Intent     IntentConfig     `yaml:"intent"`
	Selector   SelectorConfig   `yaml:"selector"`
	Compliance ComplianceConfig `yaml:"compliance"`
	Agents     []AgentConfig    `yaml:"agents"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`

	ShutdownTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig holds the conversation memory store configuration
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	MaxSize int `yaml:"max_size"`

	TTL time.Duration `yaml:"-"`

	TTLRaw string `yaml:"ttl"`
}

// AssemblerConfig holds context assembly tuning
type AssemblerConfig struct {
	MaxItems   int `yaml:"max_items"`
	ByteBudget int `yaml:"byte_budget"`

	RetrieverTimeout time.Duration `yaml:"-"`

	RetrieverTimeoutRaw string `yaml:"retriever_timeout"`
}

// IntentConfig holds intent classification configuration
type IntentConfig struct {
	// DefaultCategory is used when classification is unavailable.
	DefaultCategory string `yaml:"default_category"`
}

// SelectorConfig holds agent selection weights and the stable tie-break order
type SelectorConfig struct {
	AffinityWeight float64  `yaml:"affinity_weight"`
	CostWeight     float64  `yaml:"cost_weight"`
	LatencyWeight  float64  `yaml:"latency_weight"`
	Preference     []string `yaml:"preference"`
}

// ComplianceConfig holds the policy file location
type ComplianceConfig struct {
	PolicyPath string `yaml:"policy_path"`
	HotReload  bool   `yaml:"hot_reload"`
}

// AgentConfig declares one completion backend
type AgentConfig struct {
	Name        string             `yaml:"name"`
	Kind        string             `yaml:"kind"` // "anthropic" or "echo"
	Model       string             `yaml:"model"`
	APIKey      string             `yaml:"api_key"`
	MaxTokens   int                `yaml:"max_tokens"`
	PrivacyTier int                `yaml:"privacy_tier"`
	InputPerM   float64            `yaml:"input_cost_per_million"`
	OutputPerM  float64            `yaml:"output_cost_per_million"`
	Affinity    map[string]float64 `yaml:"affinity"` // intent category -> score
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	if len(c.Agents) == 0 {
		return fmt.Errorf("at least one agent is required")
	}
	seen := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agents[%d].name is required", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("agents[%d]: duplicate agent name %q", i, a.Name)
		}
		seen[a.Name] = true
		switch a.Kind {
		case "anthropic", "echo":
		default:
			return fmt.Errorf("agents[%d]: kind must be anthropic or echo, got %q", i, a.Kind)
		}
	}

	if c.Intent.DefaultCategory != "" {
		switch intent.Category(c.Intent.DefaultCategory) {
		case intent.CategoryFactual, intent.CategoryRetrieval, intent.CategorySummarization, intent.CategoryAction:
		default:
			return fmt.Errorf("intent.default_category: unknown category %q", c.Intent.DefaultCategory)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Server.ShutdownTimeoutRaw != "" {
		cfg.Server.ShutdownTimeout, err = time.ParseDuration(cfg.Server.ShutdownTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing shutdown_timeout %q: %w", cfg.Server.ShutdownTimeoutRaw, err)
		}
	}

	if cfg.Cache.TTLRaw != "" {
		cfg.Cache.TTL, err = time.ParseDuration(cfg.Cache.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing cache.ttl %q: %w", cfg.Cache.TTLRaw, err)
		}
	}

	if cfg.Assembler.RetrieverTimeoutRaw != "" {
		cfg.Assembler.RetrieverTimeout, err = time.ParseDuration(cfg.Assembler.RetrieverTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing retriever_timeout %q: %w", cfg.Assembler.RetrieverTimeoutRaw, err)
		}
	}

	return nil
}

// Weights returns the selector weights, falling back to the defaults for
// any weight left unset.
func (c *SelectorConfig) Weights() selector.Weights {
	w := selector.DefaultWeights
	if c.AffinityWeight > 0 {
		w.Affinity = c.AffinityWeight
	}
	if c.CostWeight > 0 {
		w.Cost = c.CostWeight
	}
	if c.LatencyWeight > 0 {
		w.Latency = c.LatencyWeight
	}
	return w
}

// Descriptor builds the backend descriptor declared by an agent entry.
func (a *AgentConfig) Descriptor() *backend.Descriptor {
	affinity := make(map[intent.Category]float64, len(a.Affinity))
	for category, score := range a.Affinity {
		affinity[intent.Category(category)] = score
	}
	return &backend.Descriptor{
		Name:        a.Name,
		PrivacyTier: a.PrivacyTier,
		Pricing:     backend.Pricing{InputPerM: a.InputPerM, OutputPerM: a.OutputPerM},
		Affinity:    affinity,
	}
}
