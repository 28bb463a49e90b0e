package query

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/c360studio/semgen/ontology"
)

// CacheKey derives the memoization key for one execution:
// sha256(ontology_hash | query_text | engine_version). Any change to the
// snapshot, the query, or the engine itself yields a fresh key.
func CacheKey(ontologyHash, queryText string) string {
	h := sha256.New()
	h.Write([]byte(ontologyHash))
	h.Write([]byte{0})
	h.Write([]byte(queryText))
	h.Write([]byte{0})
	h.Write([]byte(EngineVersion))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache memoizes query executions with a bounded size and TTL. It is an
// explicitly constructed object owned by its caller, never a process
// global. Concurrent readers do not block each other, and a miss
// triggers at most one execution per key: concurrent requesters for an
// in-flight key await that result.
type Cache struct {
	engine *Engine
	ttl    time.Duration
	max    int

	mu      sync.RWMutex
	entries map[string]*list.Element
	order   *list.List // front = oldest, for size eviction

	flight singleflight.Group
}

type cacheEntry struct {
	key     string
	result  *BindingSet
	expires time.Time
}

// DefaultTTL bounds how long a memoized result stays valid.
const DefaultTTL = 5 * time.Minute

// DefaultMaxEntries bounds the cache size.
const DefaultMaxEntries = 256

// NewCache creates a cache around the engine. Non-positive ttl or max
// fall back to the defaults.
func NewCache(engine *Engine, ttl time.Duration, max int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if max <= 0 {
		max = DefaultMaxEntries
	}
	return &Cache{
		engine:  engine,
		ttl:     ttl,
		max:     max,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Execute returns the memoized result for (snapshot, query) or runs the
// query once and caches it. The returned BindingSet has FromCache set
// accordingly; cached results are shared, so callers must not mutate
// them.
func (c *Cache) Execute(ctx context.Context, snap *ontology.Snapshot, text string) (*BindingSet, error) {
	return c.ExecuteTTL(ctx, snap, text, c.ttl)
}

// ExecuteTTL behaves like Execute with a per-call lifetime for the
// stored entry. A non-positive ttl bypasses the cache entirely: the
// query runs against the engine and nothing is stored or read.
func (c *Cache) ExecuteTTL(ctx context.Context, snap *ontology.Snapshot, text string, ttl time.Duration) (*BindingSet, error) {
	if ttl <= 0 {
		return c.engine.Execute(ctx, snap, text)
	}
	key := CacheKey(snap.Hash(), text)

	if bs := c.lookup(key); bs != nil {
		return bs, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Another requester may have populated the entry while this one
		// queued on the flight group.
		if bs := c.lookup(key); bs != nil {
			return bs, nil
		}
		bs, err := c.engine.Execute(ctx, snap, text)
		if err != nil {
			return nil, err
		}
		c.store(key, bs, ttl)
		return bs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*BindingSet), nil
}

// lookup returns a copy-on-read view of a live entry, marked FromCache.
func (c *Cache) lookup(key string) *BindingSet {
	c.mu.RLock()
	elem, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if time.Now().After(entry.expires) {
		c.evict(key)
		return nil
	}
	return &BindingSet{
		Vars:      entry.result.Vars,
		Solutions: entry.result.Solutions,
		FromCache: true,
		Elapsed:   entry.result.Elapsed,
	}
}

func (c *Cache) store(key string, bs *BindingSet, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return
	}
	for len(c.entries) >= c.max {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		delete(c.entries, oldest.Value.(*cacheEntry).key)
		c.order.Remove(oldest)
	}
	c.entries[key] = c.order.PushBack(&cacheEntry{
		key:     key,
		result:  bs,
		expires: time.Now().Add(ttl),
	})
}

func (c *Cache) evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.order.Remove(elem)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
