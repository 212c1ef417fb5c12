package scheduler

// CycleCounter is the set of meters that reported in the current cycle.
type CycleCounter struct {
	ids map[string]struct{}
}

// NewCycleCounter returns an empty counter.
func NewCycleCounter() *CycleCounter {
	return &CycleCounter{ids: make(map[string]struct{})}
}

// Add records a reading from id.
func (c *CycleCounter) Add(id string) {
	c.ids[id] = struct{}{}
}

// Len returns the number of meters that have reported.
func (c *CycleCounter) Len() int {
	return len(c.ids)
}

// Reset empties the counter.
func (c *CycleCounter) Reset() {
	clear(c.ids)
}
