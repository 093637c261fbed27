package cache

import (
	"fmt"
	"testing"
	"time"
)

func TestLRUCacheGetSet(t *testing.T) {
	c := NewLRUCache[string](4, time.Minute)

	if _, ok := c.Get("2025-01"); ok {
		t.Fatal("empty cache should miss")
	}

	c.Set("2025-01", "january")
	got, ok := c.Get("2025-01")
	if !ok || got != "january" {
		t.Fatalf("Get = %q, %v", got, ok)
	}

	c.Set("2025-01", "updated")
	if got, _ := c.Get("2025-01"); got != "updated" {
		t.Errorf("overwrite not visible, got %q", got)
	}
}

func TestLRUCacheEvictsOldest(t *testing.T) {
	c := NewLRUCache[int](3, time.Minute)
	for i := 1; i <= 3; i++ {
		c.Set(fmt.Sprintf("2025-%02d", i), i)
	}

	// Touch the oldest so it becomes most recently used.
	c.Get("2025-01")
	c.Set("2025-04", 4)

	if _, ok := c.Get("2025-02"); ok {
		t.Error("least recently used entry should have been evicted")
	}
	if _, ok := c.Get("2025-01"); !ok {
		t.Error("recently touched entry survived eviction")
	}
	if c.Size() != 3 {
		t.Errorf("Size = %d, want 3", c.Size())
	}
}

func TestLRUCacheTTLExpiry(t *testing.T) {
	c := NewLRUCache[int](10, 10*time.Millisecond)
	c.Set("2025-06", 42)

	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("2025-06"); ok {
		t.Error("expired entry served")
	}
	if c.Size() != 0 {
		t.Errorf("expired entry not removed on access, Size = %d", c.Size())
	}
}

func TestLRUCacheCleanExpired(t *testing.T) {
	c := NewLRUCache[int](10, 10*time.Millisecond)
	c.Set("a", 1)
	c.Set("b", 2)

	time.Sleep(25 * time.Millisecond)
	c.Set("c", 3)

	if removed := c.CleanExpired(); removed != 2 {
		t.Errorf("CleanExpired = %d, want 2", removed)
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("fresh entry swept")
	}
}

func TestLRUCacheClear(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	c.Set("2025-01", 1)
	c.Set("2025-02", 2)

	c.Clear()

	if c.Size() != 0 {
		t.Errorf("Size after Clear = %d", c.Size())
	}
	c.Set("2025-03", 3)
	if _, ok := c.Get("2025-03"); !ok {
		t.Error("cache unusable after Clear")
	}
}

func TestManagerSweepsRegisteredCaches(t *testing.T) {
	c := NewLRUCache[int](10, 5*time.Millisecond)
	c.Set("a", 1)

	m := NewManager()
	m.Register(c)
	m.StartCleanup(10 * time.Millisecond)
	defer m.Stop()

	deadline := time.After(time.Second)
	for c.Size() != 0 {
		select {
		case <-deadline:
			t.Fatal("manager never swept expired entry")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
