package runner

import "sync/atomic"

// PassCounter numbers evaluation passes.
//
// A pass takes its number when it starts. When two passes overlap, the one
// with the higher number wins publication, so a slow pass that finishes
// late can never overwrite the verdicts of a pass that started after it.
// Numbers start at 1 and have no gaps except for passes discarded before
// publishing.
type PassCounter struct {
	last atomic.Int64
}

// NewPassCounter returns a counter whose first pass is 1.
func NewPassCounter() *PassCounter {
	return &PassCounter{}
}

// ResumePassCounter returns a counter whose first pass follows last, the
// highest pass number already recorded (for example in a journal).
func ResumePassCounter(last int64) *PassCounter {
	c := &PassCounter{}
	c.last.Store(last)
	return c
}

// Next claims the number of a starting pass.
func (c *PassCounter) Next() int64 {
	return c.last.Add(1)
}

// Last returns the most recently claimed pass number, 0 before any pass.
func (c *PassCounter) Last() int64 {
	return c.last.Load()
}
