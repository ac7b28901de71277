// Package config handles configuration loading for loom-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion and duration parsing, then validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from LOOM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/loom/gateway.yaml
//  3. ~/.config/loom/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	agents:
//	  - name: "claude"
//	    api_key: "${ANTHROPIC_API_KEY}"
//
// # Configuration Sections
//
// Server and storage:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//	database:
//	  path: "/var/lib/loom/gateway.db"
//	redis:
//	  enabled: true
//	  addr: "localhost:6379"
//
// Pipeline tuning:
//
//	cache:
//	  ttl: "5m"
//	  max_size: 1000
//	assembler:
//	  retriever_timeout: "2s"
//	  max_items: 20
//	  byte_budget: 8192
//	selector:
//	  affinity_weight: 1.0
//	  cost_weight: 0.05
//	  latency_weight: 0.2
//	  preference: ["claude", "echo"]
//
// Agents:
//
//	agents:
//	  - name: "claude"
//	    kind: "anthropic"
//	    model: "claude-3-5-haiku-20241022"
//	    privacy_tier: 3
//	    input_cost_per_million: 0.8
//	    output_cost_per_million: 4.0
//	    affinity:
//	      summarization: 0.8
//
// Compliance and logging:
//
//	compliance:
//	  policy_path: "/etc/loom/policy.yaml"
//	  hot_reload: true
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
