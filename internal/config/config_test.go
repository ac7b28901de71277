// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
server:
  http_addr: "0.0.0.0:8080"
  shutdown_timeout: "10s"

database:
  path: "./loom.db"

redis:
  enabled: true
  addr: "localhost:6379"
  db: 1

cache:
  ttl: "5m"
  max_size: 500

assembler:
  retriever_timeout: "2s"
  max_items: 20
  byte_budget: 8192

intent:
  default_category: "factual"

selector:
  affinity_weight: 1.0
  cost_weight: 0.05
  latency_weight: 0.2
  preference:
    - "claude"
    - "echo"

compliance:
  policy_path: "./policy.yaml"
  hot_reload: true

agents:
  - name: "claude"
    kind: "anthropic"
    model: "claude-3-5-haiku-20241022"
    api_key: "sk-test"
    privacy_tier: 3
    input_cost_per_million: 0.8
    output_cost_per_million: 4.0
    affinity:
      factual: 0.9
      summarization: 0.8
  - name: "echo"
    kind: "echo"
    privacy_tier: 1

logging:
  level: "debug"
  format: "json"
`

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("http_addr = %q, want 0.0.0.0:8080", cfg.Server.HTTPAddr)
	}
	if cfg.Server.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown_timeout = %v, want 10s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("cache.ttl = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Cache.MaxSize != 500 {
		t.Errorf("cache.max_size = %d, want 500", cfg.Cache.MaxSize)
	}
	if cfg.Assembler.RetrieverTimeout != 2*time.Second {
		t.Errorf("retriever_timeout = %v, want 2s", cfg.Assembler.RetrieverTimeout)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 1 {
		t.Errorf("unexpected redis config: %+v", cfg.Redis)
	}
	if len(cfg.Agents) != 2 {
		t.Fatalf("agents = %d, want 2", len(cfg.Agents))
	}
	if cfg.Agents[0].Kind != "anthropic" || cfg.Agents[0].PrivacyTier != 3 {
		t.Errorf("unexpected first agent: %+v", cfg.Agents[0])
	}
	if cfg.Agents[0].Affinity["factual"] != 0.9 {
		t.Errorf("affinity[factual] = %v, want 0.9", cfg.Agents[0].Affinity["factual"])
	}
	if got := cfg.Selector.Preference; len(got) != 2 || got[0] != "claude" {
		t.Errorf("unexpected preference order: %v", got)
	}
	if !cfg.Compliance.HotReload || cfg.Compliance.PolicyPath != "./policy.yaml" {
		t.Errorf("unexpected compliance config: %+v", cfg.Compliance)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("LOOM_TEST_API_KEY", "sk-from-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./loom.db"
agents:
  - name: "claude"
    kind: "anthropic"
    api_key: "${LOOM_TEST_API_KEY}"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agents[0].APIKey != "sk-from-env" {
		t.Errorf("api_key = %q, want sk-from-env", cfg.Agents[0].APIKey)
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./loom.db"
agents:
  - name: "echo"
    kind: "echo"
redis:
  enabled: false
  password: "${LOOM_TEST_UNSET_VAR}"
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Redis.Password != "" {
		t.Errorf("password = %q, want empty for unset var", cfg.Redis.Password)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"
database:
  path: "./loom.db"
cache:
  ttl: "not-a-duration"
agents:
  - name: "echo"
    kind: "echo"
`))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "cache.ttl") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing http_addr",
			content: "database:\n  path: ./loom.db\nagents:\n  - name: echo\n    kind: echo\n",
			wantErr: "server.http_addr",
		},
		{
			name:    "missing database path",
			content: "server:\n  http_addr: :8080\nagents:\n  - name: echo\n    kind: echo\n",
			wantErr: "database.path",
		},
		{
			name:    "no agents",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: ./loom.db\n",
			wantErr: "at least one agent",
		},
		{
			name:    "unknown agent kind",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: ./loom.db\nagents:\n  - name: x\n    kind: openai\n",
			wantErr: "kind must be",
		},
		{
			name:    "duplicate agent name",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: ./loom.db\nagents:\n  - name: x\n    kind: echo\n  - name: x\n    kind: echo\n",
			wantErr: "duplicate agent name",
		},
		{
			name:    "redis enabled without addr",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: ./loom.db\nredis:\n  enabled: true\nagents:\n  - name: x\n    kind: echo\n",
			wantErr: "redis.addr",
		},
		{
			name:    "bad default category",
			content: "server:\n  http_addr: :8080\ndatabase:\n  path: ./loom.db\nintent:\n  default_category: gossip\nagents:\n  - name: x\n    kind: echo\n",
			wantErr: "default_category",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %v should mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSelectorConfig_WeightsDefaults(t *testing.T) {
	var sc SelectorConfig
	w := sc.Weights()
	if w.Affinity == 0 || w.Cost == 0 || w.Latency == 0 {
		t.Errorf("unset weights should fall back to defaults, got %+v", w)
	}

	sc = SelectorConfig{AffinityWeight: 2.0}
	if got := sc.Weights().Affinity; got != 2.0 {
		t.Errorf("Affinity = %v, want 2.0", got)
	}
}

func TestAgentConfig_Descriptor(t *testing.T) {
	a := AgentConfig{
		Name:        "claude",
		PrivacyTier: 3,
		InputPerM:   0.8,
		OutputPerM:  4.0,
		Affinity:    map[string]float64{"summarization": 0.8},
	}
	d := a.Descriptor()
	if d.Name != "claude" || d.PrivacyTier != 3 {
		t.Errorf("unexpected descriptor: %+v", d)
	}
	if d.Pricing.OutputPerM != 4.0 {
		t.Errorf("OutputPerM = %v, want 4.0", d.Pricing.OutputPerM)
	}
	if d.AffinityFor("summarization") != 0.8 {
		t.Errorf("AffinityFor(summarization) = %v, want 0.8", d.AffinityFor("summarization"))
	}
}
