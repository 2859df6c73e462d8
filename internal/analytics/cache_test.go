package analytics

import (
	"testing"
	"time"
)

func TestResultCacheGetSet(t *testing.T) {
	c := NewResultCache[[]TimeBucket](10, time.Minute)

	key := Key(1, "time", ByMonth)
	if _, ok := c.Get(key); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	c.Set(key, []TimeBucket{{Key: "2024-03", Revenue: 100}})
	got, ok := c.Get(key)
	if !ok || len(got) != 1 || got[0].Revenue != 100 {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("stats = %d/%d, want 1/1", hits, misses)
	}
}

func TestResultCacheWatermarkSeparatesGenerations(t *testing.T) {
	c := NewResultCache[int](10, time.Minute)

	c.Set(Key(1, "summary"), 42)
	if _, ok := c.Get(Key(2, "summary")); ok {
		t.Fatal("key from a later watermark hit an older entry")
	}
	if v, ok := c.Get(Key(1, "summary")); !ok || v != 42 {
		t.Fatalf("original key = %v, %v", v, ok)
	}
}

func TestResultCacheEvictsOldest(t *testing.T) {
	c := NewResultCache[int](2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if c.Size() != 2 {
		t.Errorf("Size = %d, want 2", c.Size())
	}
}

func TestResultCacheTTL(t *testing.T) {
	c := NewResultCache[int](10, 10*time.Millisecond)

	c.Set("a", 1)
	c.Set("b", 2)
	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("expired entry was returned")
	}
	if n := c.CleanExpired(); n != 1 {
		t.Errorf("CleanExpired = %d, want 1", n)
	}
	if c.Size() != 0 {
		t.Errorf("Size = %d, want 0", c.Size())
	}
}
