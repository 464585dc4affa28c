package resilience

import "sync"

// FailureCounters tracks consecutive transport failures per model. Counts
// are approximate under contention; they only steer fallback decisions.
type FailureCounters interface {
	// Increment adds one failure for model and returns the new count.
	Increment(model string) int
	// Reset clears the count for model.
	Reset(model string)
	// Get returns the current count for model.
	Get(model string) int
}

// DefaultCounterCapacity bounds the number of tracked models.
const DefaultCounterCapacity = 256

// MemoryCounters is a bounded, mutex-guarded FailureCounters. When full, an
// arbitrary entry is evicted to make room.
type MemoryCounters struct {
	mu       sync.Mutex
	counts   map[string]int
	capacity int
}

// NewMemoryCounters creates a counter store holding at most capacity models.
func NewMemoryCounters(capacity int) *MemoryCounters {
	if capacity <= 0 {
		capacity = DefaultCounterCapacity
	}
	return &MemoryCounters{counts: make(map[string]int), capacity: capacity}
}

// Increment implements FailureCounters.
func (c *MemoryCounters) Increment(model string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counts[model]; !ok && len(c.counts) >= c.capacity {
		for k := range c.counts {
			delete(c.counts, k)
			break
		}
	}
	c.counts[model]++
	return c.counts[model]
}

// Reset implements FailureCounters.
func (c *MemoryCounters) Reset(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.counts, model)
}

// Get implements FailureCounters.
func (c *MemoryCounters) Get(model string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[model]
}

// Len returns the number of tracked models.
func (c *MemoryCounters) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.counts)
}
