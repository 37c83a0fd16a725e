package lru

import "testing"

func TestEvictionOrder(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	// touch "a" so "b" becomes the least-recently-used entry
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a present")
	}
	evicted, ok := c.Put("c", 3)
	if !ok || evicted != "b" {
		t.Fatalf("expected eviction of b, got %q (ok=%v)", evicted, ok)
	}
	if _, ok := c.Get("b"); ok {
		t.Fatal("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("a should still be present")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("c should be present")
	}
}

func TestRemoveReturnsValue(t *testing.T) {
	c := New[string, int](2)
	c.Put("a", 1)

	v, ok := c.Remove("a")
	if !ok || v != 1 {
		t.Fatalf("Remove(a) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("a should no longer be present")
	}

	if _, ok := c.Remove("missing"); ok {
		t.Fatal("Remove of an absent key must report false")
	}
}

func TestPutUpdateDoesNotEvict(t *testing.T) {
	c := New[int, int](1)
	c.Put(1, 10)
	if _, evicted := c.Put(1, 20); evicted {
		t.Fatal("updating an existing key must not evict")
	}
	v, ok := c.Get(1)
	if !ok || v != 20 {
		t.Fatalf("Get(1) = %d, %v; want 20, true", v, ok)
	}
}
