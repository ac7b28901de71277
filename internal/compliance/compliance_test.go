// ABOUTME: Tests for compliance rule evaluation and policy hot reload.
// ABOUTME: Covers block/redact verdicts, privacy-tier gating, and ruleset swapping.

package compliance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/loom-gateway/internal/backend"
	"github.com/2389/loom-gateway/internal/intent"
	"github.com/2389/loom-gateway/internal/retriever"
)

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func checkerWith(t *testing.T, content string) *Checker {
	t.Helper()
	c, err := NewChecker(writePolicy(t, content), nil)
	require.NoError(t, err)
	return c
}

func lowTierAgent() *backend.Descriptor {
	return &backend.Descriptor{Name: "cheap", PrivacyTier: 1}
}

func highTierAgent() *backend.Descriptor {
	return &backend.Descriptor{Name: "private", PrivacyTier: 3}
}

func retrievalIntent() *intent.Intent {
	return &intent.Intent{Category: intent.CategoryRetrieval}
}

func TestChecker_EmptyPolicyAllows(t *testing.T) {
	c, err := NewChecker("", nil)
	require.NoError(t, err)

	items := []retriever.Item{{Source: "messages", Content: "x", Provenance: "message:1"}}
	res := c.Check("anything", retrievalIntent(), items, lowTierAgent())
	assert.Equal(t, VerdictAllow, res.Verdict)
	assert.Equal(t, items, res.Items)
}

func TestChecker_BlockOnQueryPattern(t *testing.T) {
	c := checkerWith(t, `
rules:
  - name: block-ssn
    pattern: '\d{3}-\d{2}-\d{4}'
    action: block
    reason: social security numbers may not leave the system
`)
	res := c.Check("my ssn is 123-45-6789", retrievalIntent(), nil, lowTierAgent())
	assert.Equal(t, VerdictBlock, res.Verdict)
	assert.Equal(t, "block-ssn", res.Rule)
	assert.NotEmpty(t, res.Reason)
}

func TestChecker_RedactFinancialForLowTier(t *testing.T) {
	c := checkerWith(t, `
rules:
  - name: financial-privacy
    sources: [records]
    min_privacy_tier: 2
    action: redact
    reason: financial context requires a high-privacy backend
`)
	items := []retriever.Item{
		{Source: "records", Content: "Netflix $15.99", Provenance: "record:1"},
		{Source: "messages", Content: "hello", Provenance: "message:1"},
	}

	res := c.Check("what did I spend", retrievalIntent(), items, lowTierAgent())
	assert.Equal(t, VerdictRedact, res.Verdict)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "message:1", res.Items[0].Provenance)
	assert.Equal(t, []string{"record:1"}, res.RedactedProvenance)

	// A high-tier agent passes untouched.
	res = c.Check("what did I spend", retrievalIntent(), items, highTierAgent())
	assert.Equal(t, VerdictAllow, res.Verdict)
	assert.Len(t, res.Items, 2)
}

func TestChecker_CategoryGate(t *testing.T) {
	c := checkerWith(t, `
rules:
  - name: no-actions
    categories: [action]
    pattern: '.'
    action: block
    reason: actions are disabled
`)
	res := c.Check("remind me later", &intent.Intent{Category: intent.CategoryAction}, nil, lowTierAgent())
	assert.Equal(t, VerdictBlock, res.Verdict)

	res = c.Check("remind me later", retrievalIntent(), nil, lowTierAgent())
	assert.Equal(t, VerdictAllow, res.Verdict)
}

func TestChecker_TierOnlyRuleBlocksLowTier(t *testing.T) {
	c := checkerWith(t, `
rules:
  - name: high-tier-only
    min_privacy_tier: 2
    action: block
    reason: this deployment requires a high-privacy backend
`)
	// No pattern and no sources: the tier gate alone decides.
	res := c.Check("anything at all", retrievalIntent(), nil, lowTierAgent())
	assert.Equal(t, VerdictBlock, res.Verdict)
	assert.Equal(t, "high-tier-only", res.Rule)

	res = c.Check("anything at all", retrievalIntent(), nil, highTierAgent())
	assert.Equal(t, VerdictAllow, res.Verdict)
}

func TestChecker_TierOnlyRuleRedactsAllContext(t *testing.T) {
	c := checkerWith(t, `
rules:
  - name: strip-context
    min_privacy_tier: 2
    action: redact
    reason: context may not reach low-privacy backends
`)
	items := []retriever.Item{
		{Source: "records", Content: "Netflix $15.99", Provenance: "record:1"},
		{Source: "messages", Content: "hello", Provenance: "message:1"},
	}
	res := c.Check("what did I spend", retrievalIntent(), items, lowTierAgent())
	assert.Equal(t, VerdictRedact, res.Verdict)
	assert.Empty(t, res.Items)
	assert.ElementsMatch(t, []string{"record:1", "message:1"}, res.RedactedProvenance)
}

func TestChecker_BlockWinsOverRedact(t *testing.T) {
	c := checkerWith(t, `
rules:
  - name: redact-records
    sources: [records]
    action: redact
    reason: records are sensitive
  - name: block-secret
    pattern: 'top secret'
    action: block
    reason: classified
`)
	items := []retriever.Item{{Source: "records", Content: "x", Provenance: "record:1"}}
	res := c.Check("top secret plans", retrievalIntent(), items, lowTierAgent())
	assert.Equal(t, VerdictBlock, res.Verdict)
	assert.Equal(t, "block-secret", res.Rule)
}

func TestChecker_InvalidAction(t *testing.T) {
	_, err := NewChecker(writePolicy(t, `
rules:
  - name: broken
    action: shrug
`), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action must be block or redact")
}

func TestChecker_ReloadSwapsRules(t *testing.T) {
	path := writePolicy(t, `
rules:
  - name: block-everything
    pattern: '.'
    action: block
    reason: lockdown
`)
	c, err := NewChecker(path, nil)
	require.NoError(t, err)

	res := c.Check("anything", retrievalIntent(), nil, lowTierAgent())
	assert.Equal(t, VerdictBlock, res.Verdict)

	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0644))
	require.NoError(t, c.Reload())

	res = c.Check("anything", retrievalIntent(), nil, lowTierAgent())
	assert.Equal(t, VerdictAllow, res.Verdict)
}

func TestChecker_WatchReloadsOnWrite(t *testing.T) {
	path := writePolicy(t, "rules: []\n")
	c, err := NewChecker(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_ = c.Watch(ctx)
	}()

	// Give the watcher a moment to attach before writing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - name: block-everything
    pattern: '.'
    action: block
    reason: lockdown
`), 0644))

	require.Eventually(t, func() bool {
		res := c.Check("anything", retrievalIntent(), nil, lowTierAgent())
		return res.Verdict == VerdictBlock
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-watchDone
}
