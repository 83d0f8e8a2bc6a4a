package lifo

import "sync/atomic"

// Allocator rations storage units to a [Store].  Every byte held by a
// store is reserved first; a store never holds a unit it was not granted.
//
// Implementations must be safe for concurrent use: one allocator may back
// several stacks.
type Allocator interface {
	// Reserve grants up to n units and returns how many were granted.
	// A grant smaller than n means the allocator is exhausted.
	Reserve(n int) int

	// Release returns n previously reserved units.
	Release(n int)
}

// Unlimited is an [Allocator] that always grants the full request.
type Unlimited struct{}

// Reserve returns n.
func (Unlimited) Reserve(n int) int { return n }

// Release is a no-op.
func (Unlimited) Release(int) {}

// Budget is an [Allocator] bounded by a fixed number of units shared by
// every store that draws from it.
type Budget struct {
	limit int64
	used  atomic.Int64
}

// NewBudget returns a budget of limit units.  A non-positive limit grants
// nothing.
func NewBudget(limit int) *Budget {
	if limit < 0 {
		limit = 0
	}
	return &Budget{limit: int64(limit)}
}

// Reserve grants min(n, remaining) units.
func (b *Budget) Reserve(n int) int {
	if n <= 0 {
		return 0
	}
	for {
		used := b.used.Load()
		free := b.limit - used
		if free <= 0 {
			return 0
		}
		grant := min(int64(n), free)
		if b.used.CompareAndSwap(used, used+grant) {
			return int(grant)
		}
	}
}

// Release returns n units to the budget.
func (b *Budget) Release(n int) {
	if n <= 0 {
		return
	}
	if b.used.Add(-int64(n)) < 0 {
		b.used.Store(0)
	}
}

// Used reports the number of units currently reserved.
func (b *Budget) Used() int { return int(b.used.Load()) }

// Limit reports the size of the budget.
func (b *Budget) Limit() int { return int(b.limit) }
