// ABOUTME: Thread-safe TTL response cache with per-key duplicate suppression.
// ABOUTME: Concurrent callers of the same key share one computation via singleflight.

package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Entry is a cached final response together with its cost/latency metadata.
// Provenance lists the context item identifiers the response was built from,
// so entries can be invalidated when an underlying record changes.
type Entry struct {
	Key          string
	Agent        string
	Response     string
	Provenance   []string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Latency      time.Duration
	CreatedAt    time.Time
}

// cacheEntry stores the entry and its bookkeeping for eviction.
type cacheEntry struct {
	entry   *Entry
	fastKey string
	element *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited response cache. Lookups
// past TTL are treated as absent. For a given key, at most one computation
// runs concurrently; callers arriving while one is in flight wait for and
// share its result. Uses a doubly-linked list for O(1) eviction of the
// oldest entry at capacity.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	index   map[string]string // fast key -> primary key
	order   *list.List        // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	group   singleflight.Group
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size. A background
// goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 1000
	}
	c := &Cache{
		entries: make(map[string]*cacheEntry),
		index:   make(map[string]string),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// NormalizeQuery canonicalizes query text for key derivation: lowercased
// with collapsed whitespace.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Key derives the primary cache key from the full request identity.
func Key(normQuery, category, agent, fingerprint string) string {
	return hashParts(normQuery, category, agent, fingerprint)
}

// FastKey derives the lookup key available before context assembly and agent
// selection: query text, intent category, explicit agent override, and the
// requesting user. Retrieved context is user-scoped, so the user must be
// part of the key or one user's cached response would answer another's
// identical query.
func FastKey(normQuery, category, override, userID string) string {
	return hashParts("fast", normQuery, category, override, userID)
}

func hashParts(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry for key if present and fresh.
func (c *Cache) Get(key string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ce, ok := c.entries[key]
	if !ok || time.Since(ce.entry.CreatedAt) >= c.ttl {
		return nil, false
	}
	return ce.entry, true
}

// Lookup returns a fresh entry previously stored under the given fast key.
// This is the pre-assembly fast path: it finds the result of an equivalent
// earlier request without recomputing its context fingerprint.
func (c *Cache) Lookup(fastKey string) (*Entry, bool) {
	c.mu.RLock()
	key, ok := c.index[fastKey]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return c.Get(key)
}

// GetOrCompute returns the cached entry for key, or runs compute to produce
// it. Concurrent callers for the same key share one computation. The compute
// function receives a context detached from the caller's cancellation, so a
// disconnecting caller does not abort a computation other waiters share.
// Compute errors are returned to every waiter and nothing is cached.
// The second return reports whether the result came from cache or another
// caller's in-flight computation rather than this caller's own compute run.
func (c *Cache) GetOrCompute(ctx context.Context, key, fastKey string, compute func(ctx context.Context) (*Entry, error)) (*Entry, bool, error) {
	if entry, ok := c.Get(key); ok {
		return entry, true, nil
	}

	ran := false
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		ran = true
		if entry, ok := c.Get(key); ok {
			return entry, nil
		}
		entry, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		// Compute may answer under a different identity than requested
		// (a fallback agent); store under the key it reports so the
		// entry names the tuple that actually produced it.
		if entry.Key == "" {
			entry.Key = key
		}
		entry.CreatedAt = time.Now()
		c.put(entry.Key, fastKey, entry)
		return entry, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*Entry), !ran, nil
}

// put stores an entry under key, evicting the oldest entry at capacity.
func (c *Cache) put(key, fastKey string, entry *Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prev, exists := c.entries[key]; exists {
		c.removeLocked(key, prev)
	}
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}

	elem := c.order.PushBack(key)
	c.entries[key] = &cacheEntry{entry: entry, fastKey: fastKey, element: elem}
	if fastKey != "" {
		c.index[fastKey] = key
	}
}

// Invalidate removes every entry matching the predicate and returns how many
// were removed. Typical predicates match on provenance overlap with a
// changed underlying record.
func (c *Cache) Invalidate(match func(*Entry) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, ce := range c.entries {
		if match(ce.entry) {
			c.removeLocked(key, ce)
			removed++
		}
	}
	return removed
}

// InvalidateProvenance removes entries whose provenance contains the given
// identifier prefix (e.g. "message:" drops everything built from messages).
func (c *Cache) InvalidateProvenance(prefix string) int {
	return c.Invalidate(func(e *Entry) bool {
		for _, p := range e.Provenance {
			if strings.HasPrefix(p, prefix) {
				return true
			}
		}
		return false
	})
}

// Len returns the current number of entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// removeLocked deletes one entry and its index mapping. Must hold mu.
func (c *Cache) removeLocked(key string, ce *cacheEntry) {
	c.order.Remove(ce.element)
	delete(c.entries, key)
	if ce.fastKey != "" && c.index[ce.fastKey] == key {
		delete(c.index, ce.fastKey)
	}
}

// evictOldestLocked removes the oldest entry. Must hold mu.
func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	if ce, ok := c.entries[key]; ok {
		c.removeLocked(key, ce)
	}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, ce := range c.entries {
		if now.Sub(ce.entry.CreatedAt) >= c.ttl {
			c.removeLocked(key, ce)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
