package parksapi

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newSQLiteTestCache(t *testing.T, maxEntries int) *SQLiteCache {
	t.Helper()
	cache, err := NewSQLiteCache(filepath.Join(t.TempDir(), "cache.db"), maxEntries, nil)
	if err != nil {
		t.Fatalf("NewSQLiteCache() error = %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestSQLiteCacheSetGet(t *testing.T) {
	cache := newSQLiteTestCache(t, 100)

	cache.Set("key1", []byte("value1"), time.Minute)

	got, ok := cache.Get("key1")
	if !ok {
		t.Fatal("Get() miss for existing key")
	}
	if string(got) != "value1" {
		t.Errorf("Get() = %q, want %q", got, "value1")
	}
	if _, ok := cache.Get("missing"); ok {
		t.Error("Get() hit for missing key")
	}

	// Overwrite refreshes the value.
	cache.Set("key1", []byte("value2"), time.Minute)
	got, _ = cache.Get("key1")
	if string(got) != "value2" {
		t.Errorf("Get() after overwrite = %q, want %q", got, "value2")
	}
	if cache.Size() != 1 {
		t.Errorf("Size() = %d, want 1", cache.Size())
	}
}

func TestSQLiteCacheExpiry(t *testing.T) {
	cache := newSQLiteTestCache(t, 100)

	cache.Set("short", []byte("v"), 10*time.Millisecond)
	if !cache.Has("short") {
		t.Fatal("entry should be live before TTL")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := cache.Get("short"); ok {
		t.Error("entry should have expired")
	}
	if cache.Size() != 0 {
		t.Errorf("Size() = %d after expired read, want 0", cache.Size())
	}
}

func TestSQLiteCacheBoundsEntries(t *testing.T) {
	const max = 5
	cache := newSQLiteTestCache(t, max)

	for i := 0; i < max*2; i++ {
		cache.Set(fmt.Sprintf("key%d", i), []byte("v"), time.Minute)
		// Distinct last_access timestamps for deterministic eviction order.
		time.Sleep(2 * time.Millisecond)
	}
	if size := cache.Size(); size != max {
		t.Fatalf("Size() = %d, want %d", size, max)
	}

	// Oldest rows evicted first.
	if cache.Has("key0") {
		t.Error("oldest entry should be evicted")
	}
	if !cache.Has(fmt.Sprintf("key%d", max*2-1)) {
		t.Error("newest entry should survive")
	}
}

func TestSQLiteCacheCountsEvictions(t *testing.T) {
	const max = 3
	cache := newSQLiteTestCache(t, max)

	for i := 0; i < max; i++ {
		cache.Set(fmt.Sprintf("key%d", i), []byte("v"), time.Minute)
	}
	if n := cache.Evictions(); n != 0 {
		t.Fatalf("Evictions() = %d, want 0 while within bound", n)
	}

	cache.Set("overflow1", []byte("v"), time.Minute)
	cache.Set("overflow2", []byte("v"), time.Minute)
	if n := cache.Evictions(); n != 2 {
		t.Errorf("Evictions() = %d, want 2", n)
	}
}

func TestSQLiteCachePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	cache, err := NewSQLiteCache(path, 100, nil)
	if err != nil {
		t.Fatalf("NewSQLiteCache() error = %v", err)
	}
	cache.Set("durable", []byte("survives"), time.Hour)
	if err := cache.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := NewSQLiteCache(path, 100, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	got, ok := reopened.Get("durable")
	if !ok {
		t.Fatal("entry should survive reopen")
	}
	if string(got) != "survives" {
		t.Errorf("Get() = %q, want %q", got, "survives")
	}
}

func TestSQLiteCacheSweep(t *testing.T) {
	cache := newSQLiteTestCache(t, 100)

	cache.Set("short", []byte("v"), 5*time.Millisecond)
	cache.Set("long", []byte("v"), time.Hour)

	time.Sleep(10 * time.Millisecond)
	cache.Sweep()

	if size := cache.Size(); size != 1 {
		t.Errorf("Size() after sweep = %d, want 1", size)
	}
	if !cache.Has("long") {
		t.Error("unexpired entry should survive sweep")
	}
}

func TestSQLiteCacheWrap(t *testing.T) {
	cache := newSQLiteTestCache(t, 100)

	var computes int
	for i := 0; i < 3; i++ {
		got, err := cache.Wrap("key", time.Minute, func() ([]byte, error) {
			computes++
			return []byte("computed"), nil
		})
		if err != nil {
			t.Fatalf("Wrap() error = %v", err)
		}
		if string(got) != "computed" {
			t.Errorf("Wrap() = %q, want %q", got, "computed")
		}
	}
	if computes != 1 {
		t.Errorf("compute ran %d times, want 1", computes)
	}
}

func TestSQLiteCacheDeleteClearKeys(t *testing.T) {
	cache := newSQLiteTestCache(t, 100)

	cache.Set("a", []byte("1"), time.Minute)
	cache.Set("b", []byte("2"), time.Minute)

	cache.Delete("a")
	if cache.Has("a") {
		t.Error("deleted entry still present")
	}

	keys := cache.Keys()
	if len(keys) != 1 || keys[0] != "b" {
		t.Errorf("Keys() = %v, want [b]", keys)
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", cache.Size())
	}
}
