package queue

import (
	"context"
	"sync"
	"testing"
	"time"
)

// TestFIFOOrder verifies a single consumer observes pushes in order.
func TestFIFOOrder(t *testing.T) {
	q := New[int]()
	const n = 1000

	go func() {
		for i := 0; i < n; i++ {
			q.Push(i)
		}
	}()

	for i := 0; i < n; i++ {
		if got := q.WaitAndPop(); got != i {
			t.Fatalf("pop %d = %d, want %d", i, got, i)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after draining, want 0", q.Len())
	}
}

// TestWaitAndPopBlocksUntilPush verifies a pop issued before any push waits
// for the first push.
func TestWaitAndPopBlocksUntilPush(t *testing.T) {
	q := New[string]()
	got := make(chan string, 1)

	go func() {
		got <- q.WaitAndPop()
	}()

	select {
	case v := <-got:
		t.Fatalf("WaitAndPop returned %q before any push", v)
	case <-time.After(50 * time.Millisecond):
	}

	q.Push("first")

	select {
	case v := <-got:
		if v != "first" {
			t.Errorf("WaitAndPop = %q, want %q", v, "first")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitAndPop did not return after push")
	}
}

func TestWaitAndPopContextDeadline(t *testing.T) {
	q := New[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.WaitAndPopContext(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want %v", err, context.DeadlineExceeded)
	}

	// A push after the deadline is still delivered to the next pop.
	q.Push(7)
	v, err := q.WaitAndPopContext(context.Background())
	if err != nil || v != 7 {
		t.Errorf("WaitAndPopContext = (%d, %v), want (7, nil)", v, err)
	}
}

func TestTryPop(t *testing.T) {
	q := New[int]()
	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop on empty queue returned ok")
	}
	q.Push(1)
	q.Push(2)
	if v, ok := q.TryPop(); !ok || v != 1 {
		t.Errorf("TryPop = (%d, %v), want (1, true)", v, ok)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
}

// TestMultipleProducers verifies no item is lost or duplicated with several
// producers and one consumer.
func TestMultipleProducers(t *testing.T) {
	q := New[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(base + i)
			}
		}(p * perProducer)
	}

	seen := make(map[int]bool, producers*perProducer)
	lastByProducer := make(map[int]int)
	for i := 0; i < producers*perProducer; i++ {
		v := q.WaitAndPop()
		if seen[v] {
			t.Fatalf("item %d delivered twice", v)
		}
		seen[v] = true

		// Per-producer order is preserved.
		p := v / perProducer
		if last, ok := lastByProducer[p]; ok && v <= last {
			t.Fatalf("producer %d: item %d after %d", p, v, last)
		}
		lastByProducer[p] = v
	}
	wg.Wait()

	if len(seen) != producers*perProducer {
		t.Errorf("received %d distinct items, want %d", len(seen), producers*perProducer)
	}
}

func TestRingGrowPreservesOrder(t *testing.T) {
	r := newRing[int](2)
	// Force wraparound before growing.
	r.push(0)
	r.push(1)
	r.pop()
	for i := 2; i < 50; i++ {
		r.push(i)
	}
	for want := 1; want < 50; want++ {
		got, ok := r.pop()
		if !ok || got != want {
			t.Fatalf("pop = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
	if !r.empty() {
		t.Error("ring not empty after draining")
	}
}
