package cmap

import "testing"

func TestMapSetGetDelete(t *testing.T) {
	m := NewMap[string, int]()

	m.Set("a", 1)
	m.Set("b", 2)
	m.Set("a", 3)

	v, ok := m.Get("a")
	if !ok || v != 3 {
		t.Fatalf("expected a=3, got %d (%v)", v, ok)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", m.Len())
	}

	m.Delete("a")
	if _, ok := m.Get("a"); ok {
		t.Fatalf("expected a to be deleted")
	}

	sum := 0
	m.Range(func(_ string, v int) bool {
		sum += v
		return true
	})
	if sum != 2 {
		t.Fatalf("expected sum 2, got %d", sum)
	}

	m.Clear()
	if m.Len() != 0 {
		t.Fatalf("expected empty map after clear, got %d", m.Len())
	}
}
