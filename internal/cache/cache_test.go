package cache

import (
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New[string, int](4, 0)
	c.Set("a", 1)

	v, ok := c.Get("a")
	if !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("Get(missing) = hit, want miss")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New[string, int](2, 0)
	c.Set("a", 1)
	c.Set("b", 2)

	// Touch "a" so "b" becomes least recently used.
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b survived eviction, want evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a evicted, want kept")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c missing, want kept")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New[string, int](4, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Set("a", 1)
	if _, ok := c.Get("a"); !ok {
		t.Fatal("fresh entry reported as miss")
	}

	clock = clock.Add(2 * time.Minute)
	if _, ok := c.Get("a"); ok {
		t.Error("expired entry reported as hit")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expiry read, want 0", c.Len())
	}
}

func TestSetRefreshesTTL(t *testing.T) {
	c := New[string, int](4, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	c.Set("a", 1)
	clock = clock.Add(45 * time.Second)
	c.Set("a", 2)
	clock = clock.Add(45 * time.Second)

	v, ok := c.Get("a")
	if !ok || v != 2 {
		t.Errorf("Get(a) = %d, %v; want 2, true (rewrite resets expiry)", v, ok)
	}
}

func TestPurge(t *testing.T) {
	c := New[string, int](4, 0)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Purge()

	if c.Len() != 0 {
		t.Errorf("Len() = %d after Purge, want 0", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("Get(a) = hit after Purge")
	}
}
