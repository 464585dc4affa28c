package resilience

import (
	"fmt"
	"sync"
	"testing"
)

func TestMemoryCounters_IncrementReset(t *testing.T) {
	c := NewMemoryCounters(4)
	if c.Increment("m1") != 1 || c.Increment("m1") != 2 {
		t.Fatal("increment should count consecutively")
	}
	if c.Get("m2") != 0 {
		t.Fatal("untracked model should read zero")
	}
	c.Reset("m1")
	if c.Get("m1") != 0 {
		t.Fatalf("expected 0 after reset, got %d", c.Get("m1"))
	}
}

func TestMemoryCounters_Bounded(t *testing.T) {
	c := NewMemoryCounters(3)
	for i := range 10 {
		c.Increment(fmt.Sprintf("model-%d", i))
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 tracked models, got %d", c.Len())
	}
	if c.Get("model-9") != 1 {
		t.Fatal("latest model must be tracked")
	}
}

func TestMemoryCounters_Concurrent(t *testing.T) {
	c := NewMemoryCounters(8)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Increment("shared")
		}()
	}
	wg.Wait()
	if got := c.Get("shared"); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}
