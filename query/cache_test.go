package query

import (
	"context"
	"sync"
	"testing"
	"time"
)

const cacheQuery = `PREFIX sg: <https://semgen.dev/ns#>
SELECT ?e WHERE { ?e a sg:Entity }`

func TestCacheMissThenHit(t *testing.T) {
	snap := testSnapshot(t)
	cache := NewCache(NewEngine(0), time.Minute, 16)

	first, err := cache.Execute(context.Background(), snap, cacheQuery)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if first.FromCache {
		t.Error("first execution must be a miss")
	}

	second, err := cache.Execute(context.Background(), snap, cacheQuery)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !second.FromCache {
		t.Error("second execution must be a hit")
	}
	if first.Len() != second.Len() {
		t.Errorf("cached result differs: %d vs %d solutions", first.Len(), second.Len())
	}
	for i := range first.Solutions {
		if first.Solutions[i]["e"] != second.Solutions[i]["e"] {
			t.Errorf("cached solution %d differs", i)
		}
	}
}

func TestCacheKeyChangesWithSnapshot(t *testing.T) {
	a := CacheKey("hash-a", cacheQuery)
	b := CacheKey("hash-b", cacheQuery)
	if a == b {
		t.Error("different ontology hashes must produce different keys")
	}
	if a != CacheKey("hash-a", cacheQuery) {
		t.Error("cache key is not stable")
	}
	if len(a) != 64 {
		t.Errorf("expected 64-char key, got %d", len(a))
	}
}

func TestCacheTTLExpiry(t *testing.T) {
	snap := testSnapshot(t)
	cache := NewCache(NewEngine(0), time.Millisecond, 16)

	if _, err := cache.Execute(context.Background(), snap, cacheQuery); err != nil {
		t.Fatalf("execute: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	bs, err := cache.Execute(context.Background(), snap, cacheQuery)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if bs.FromCache {
		t.Error("expired entry must not be served")
	}
}

func TestCacheExecuteTTLBypass(t *testing.T) {
	snap := testSnapshot(t)
	cache := NewCache(NewEngine(0), time.Minute, 16)

	// A non-positive ttl neither reads nor populates the cache.
	if _, err := cache.ExecuteTTL(context.Background(), snap, cacheQuery, 0); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if cache.Len() != 0 {
		t.Errorf("bypassed execution populated the cache: %d entries", cache.Len())
	}

	if _, err := cache.Execute(context.Background(), snap, cacheQuery); err != nil {
		t.Fatalf("execute: %v", err)
	}
	bs, err := cache.ExecuteTTL(context.Background(), snap, cacheQuery, 0)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if bs.FromCache {
		t.Error("bypassed execution was served from cache")
	}
}

func TestCacheBoundedSize(t *testing.T) {
	snap := testSnapshot(t)
	cache := NewCache(NewEngine(0), time.Minute, 2)

	queries := []string{
		`SELECT ?e WHERE { ?e a <https://semgen.dev/ns#Entity> }`,
		`SELECT ?e WHERE { ?e <https://semgen.dev/ns#name> ?n }`,
		`SELECT ?e WHERE { ?e <https://semgen.dev/ns#hasProperty> ?p }`,
	}
	for _, q := range queries {
		if _, err := cache.Execute(context.Background(), snap, q); err != nil {
			t.Fatalf("execute %q: %v", q, err)
		}
	}
	if cache.Len() > 2 {
		t.Errorf("cache exceeded bound: %d entries", cache.Len())
	}
}

func TestCacheConcurrentRequestersShareResult(t *testing.T) {
	snap := testSnapshot(t)
	cache := NewCache(NewEngine(0), time.Minute, 16)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*BindingSet, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.Execute(context.Background(), snap, cacheQuery)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if results[i].Len() != results[0].Len() {
			t.Errorf("request %d got %d solutions, want %d", i, results[i].Len(), results[0].Len())
		}
	}
}
