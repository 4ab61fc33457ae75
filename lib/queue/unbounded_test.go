package queue

import "testing"

func TestUnboundedKeepsOrderWithoutConsumer(t *testing.T) {
	q := NewUnbounded[int]()

	// no reader yet, pushes must not block
	for i := 0; i < 1000; i++ {
		q.Push(i)
	}
	q.Close()

	want := 0
	for v := range q.Out() {
		if v != want {
			t.Fatalf("expected %d, got %d", want, v)
		}
		want++
	}
	if want != 1000 {
		t.Fatalf("expected 1000 items, got %d", want)
	}
}
