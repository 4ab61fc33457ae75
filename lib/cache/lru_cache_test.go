package cache

import "testing"

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	l := NewLRU[string, string](2)

	l.Put("a", "1")
	l.Put("b", "2")

	// touch a so b becomes the eviction candidate
	if v, ok := l.Get("a"); !ok || v != "1" {
		t.Fatalf("expected a=1, got %q (%v)", v, ok)
	}

	l.Put("c", "3")

	if _, ok := l.Get("b"); ok {
		t.Fatalf("expected b to be evicted")
	}
	if _, ok := l.Get("a"); !ok {
		t.Fatalf("expected a to survive eviction")
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", l.Len())
	}
}

func TestLRURemove(t *testing.T) {
	l := NewLRU[string, int](4)
	l.Put("a", 1)
	l.Remove("a")
	l.Remove("missing")

	if _, ok := l.Get("a"); ok {
		t.Fatalf("expected a to be removed")
	}
	if l.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", l.Len())
	}
}
