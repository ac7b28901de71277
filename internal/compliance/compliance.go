// ABOUTME: Data-driven compliance checker evaluating queries and context before execution.
// ABOUTME: Rules match content patterns, intent categories, sources, and agent privacy tiers.

package compliance

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/2389/loom-gateway/internal/backend"
	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/retriever"
)

// Verdict is the outcome of a compliance check.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictRedact
	VerdictBlock
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictRedact:
		return "redact"
	case VerdictBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Result carries the verdict; for redactions, Items holds the filtered
// bundle content and RedactedProvenance identifies what was removed.
type Result struct {
	Verdict            Verdict
	Rule               string
	Reason             string
	Items              []retriever.Item
	RedactedProvenance []string
}

// RuleConfig is the YAML shape of one policy rule. A rule applies when every
// configured match dimension holds; unset dimensions match everything.
type RuleConfig struct {
	Name       string   `yaml:"name"`
	Pattern    string   `yaml:"pattern"`          // regexp over query text and item content
	Categories []string `yaml:"categories"`       // intent categories the rule applies to
	Sources    []string `yaml:"sources"`          // context sources the rule applies to
	MinTier    int      `yaml:"min_privacy_tier"` // rule triggers when agent tier is below this
	Action     string   `yaml:"action"`           // "block" or "redact"
	Reason     string   `yaml:"reason"`
}

// policyFile is the YAML document shape.
type policyFile struct {
	Rules []RuleConfig `yaml:"rules"`
}

// rule is a compiled policy rule.
type rule struct {
	name       string
	pattern    *regexp.Regexp
	categories map[intent.Category]bool
	sources    map[string]bool
	minTier    int
	block      bool
	reason     string
}

// ruleset is an immutable compiled snapshot of the policy file. It is
// swapped atomically on reload; in-flight checks keep whichever snapshot
// they loaded.
type ruleset struct {
	rules []rule
}

// Checker evaluates assembled requests against the loaded policy.
type Checker struct {
	path    string
	current atomic.Pointer[ruleset]
	logger  *slog.Logger
}

// NewChecker loads the policy file at path. An empty path yields a checker
// that allows everything.
func NewChecker(path string, logger *slog.Logger) (*Checker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Checker{
		path:   path,
		logger: logger.With("component", "compliance"),
	}
	if path == "" {
		c.current.Store(&ruleset{})
		return c, nil
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads and recompiles the policy file, swapping the active
// ruleset atomically. A parse failure keeps the previous ruleset.
func (c *Checker) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}

	rs, err := compile(pf.Rules)
	if err != nil {
		return err
	}
	c.current.Store(rs)
	c.logger.Info("compliance policy loaded", "path", c.path, "rules", len(rs.rules))
	return nil
}

// compile validates and compiles raw rule configs.
func compile(configs []RuleConfig) (*ruleset, error) {
	rs := &ruleset{rules: make([]rule, 0, len(configs))}
	for i, rc := range configs {
		if rc.Action != "block" && rc.Action != "redact" {
			return nil, fmt.Errorf("rule %d (%s): action must be block or redact, got %q", i, rc.Name, rc.Action)
		}

		r := rule{
			name:    rc.Name,
			minTier: rc.MinTier,
			block:   rc.Action == "block",
			reason:  rc.Reason,
		}
		if rc.Pattern != "" {
			re, err := regexp.Compile(rc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): compiling pattern: %w", i, rc.Name, err)
			}
			r.pattern = re
		}
		if len(rc.Categories) > 0 {
			r.categories = make(map[intent.Category]bool, len(rc.Categories))
			for _, cat := range rc.Categories {
				r.categories[intent.Category(cat)] = true
			}
		}
		if len(rc.Sources) > 0 {
			r.sources = make(map[string]bool, len(rc.Sources))
			for _, src := range rc.Sources {
				r.sources[src] = true
			}
		}
		rs.rules = append(rs.rules, r)
	}
	return rs, nil
}

// Check evaluates the query and context bundle against the active ruleset
// for the chosen agent. Block takes precedence over redact; redactions from
// multiple rules accumulate.
func (c *Checker) Check(queryText string, it *intent.Intent, items []retriever.Item, agent *backend.Descriptor) Result {
	rs := c.current.Load()
	if rs == nil || len(rs.rules) == 0 {
		return Result{Verdict: VerdictAllow, Items: items}
	}

	redacted := make(map[string]bool)
	var redactRule, redactReason string

	for i := range rs.rules {
		r := &rs.rules[i]
		if !r.applies(it, agent) {
			continue
		}

		if r.block {
			if r.matchesQuery(queryText) || r.matchesAnyItem(items) {
				c.logger.Info("request blocked by policy", "rule", r.name, "agent", agent.Name)
				return Result{Verdict: VerdictBlock, Rule: r.name, Reason: r.reason}
			}
			continue
		}

		for _, item := range items {
			if r.matchesItem(item) {
				redacted[item.Provenance] = true
				redactRule, redactReason = r.name, r.reason
			}
		}
	}

	if len(redacted) == 0 {
		return Result{Verdict: VerdictAllow, Items: items}
	}

	kept := make([]retriever.Item, 0, len(items))
	removed := make([]string, 0, len(redacted))
	for _, item := range items {
		if redacted[item.Provenance] {
			removed = append(removed, item.Provenance)
			continue
		}
		kept = append(kept, item)
	}
	c.logger.Info("context redacted by policy", "rule", redactRule, "removed", len(removed), "agent", agent.Name)
	return Result{
		Verdict:            VerdictRedact,
		Rule:               redactRule,
		Reason:             redactReason,
		Items:              kept,
		RedactedProvenance: removed,
	}
}

// applies checks the rule's category and privacy-tier gates.
func (r *rule) applies(it *intent.Intent, agent *backend.Descriptor) bool {
	if r.categories != nil {
		if it == nil || !r.categories[it.Category] {
			return false
		}
	}
	if r.minTier > 0 && agent.PrivacyTier >= r.minTier {
		return false
	}
	return true
}

// matchesQuery reports whether the rule's pattern matches the query text.
// Source-scoped rules never match on the query alone. A rule with no
// content matchers at all (tier- or category-gated only) matches every
// query it applies to.
func (r *rule) matchesQuery(text string) bool {
	if r.sources != nil {
		return false
	}
	if r.pattern == nil {
		return true
	}
	return r.pattern.MatchString(text)
}

// matchesItem reports whether one context item falls under the rule. A rule
// with neither pattern nor sources matches every item it applies to.
func (r *rule) matchesItem(item retriever.Item) bool {
	if r.sources != nil && !r.sources[item.Source] {
		return false
	}
	if r.pattern != nil && !r.pattern.MatchString(item.Content) {
		return false
	}
	return true
}

func (r *rule) matchesAnyItem(items []retriever.Item) bool {
	for _, item := range items {
		if r.matchesItem(item) {
			return true
		}
	}
	return false
}
