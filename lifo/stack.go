package lifo

import (
	"context"
	"fmt"
	"sync"
)

// MaxCapacity is the default upper bound on bytes held by a [Stack].
const MaxCapacity = 1 << 20

// Config tunes a [Stack].  The zero value selects a 1 MiB stack with
// unlimited allocation.
type Config struct {
	// Capacity bounds the bytes held at once (default MaxCapacity).
	Capacity int

	// Allocator rations storage units (default Unlimited).
	Allocator Allocator

	// RejectOversize makes a single write longer than Capacity fail with
	// ErrTooLarge instead of being truncated to Capacity.
	RejectOversize bool
}

// Stack is the shared LIFO channel.  A single mutex guards the store;
// readers park on a condition variable bound to it until a write makes
// the store non-empty.
//
// All methods are safe for concurrent use.
type Stack struct {
	mu       sync.Mutex
	nonEmpty sync.Cond
	store    *Store

	capacity       int
	rejectOversize bool

	waiting int
	closed  bool
}

// New constructs an empty stack.  The caller owns it and must [Stack.Close]
// it exactly once at teardown.
func New(cfg Config) *Stack {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = MaxCapacity
	}
	s := &Stack{
		store:          NewStore(cfg.Allocator),
		capacity:       capacity,
		rejectOversize: cfg.RejectOversize,
	}
	s.nonEmpty.L = &s.mu
	return s
}

// Writer returns the write-only access point.
func (s *Stack) Writer() *Writer { return &Writer{s: s} }

// OpenReader returns a read-only access point.  When nonBlocking is set,
// every read it issues returns an empty result instead of waiting.
func (s *Stack) OpenReader(nonBlocking bool) *Reader {
	return &Reader{s: s, nonBlocking: nonBlocking}
}

// Len returns the number of bytes currently held.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Len()
}

// Cap returns the capacity in bytes.
func (s *Stack) Cap() int { return s.capacity }

// Waiting returns the number of readers currently blocked.
func (s *Stack) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiting
}

// Close discards every byte and wakes all blocked readers, which return
// an error matching both ErrInterrupted and ErrClosed.  Later calls are
// no-ops.
func (s *Stack) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.store.Reset()
	s.nonEmpty.Broadcast()
	return nil
}

// ── Synchronisation layer ────────────────────────────────────────────

// withExclusiveAccess runs fn while holding the guard.  The guard is
// released on every exit path, including a panic in fn.
func (s *Stack) withExclusiveAccess(fn func(st *Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return fn(s.store)
}

// waitUntilNonEmpty returns nil once the store holds data.
//
// A non-blocking caller facing an empty store gets ErrWouldBlock.  A
// blocking caller parks until notified, re-checking emptiness after
// every wake-up; the guard is released while parked.  Cancelling ctx or
// closing the stack ends the wait with ErrInterrupted.
func (s *Stack) waitUntilNonEmpty(ctx context.Context, blocking bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.store.Empty() {
		return nil
	}
	if !blocking {
		return ErrWouldBlock
	}

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.nonEmpty.Broadcast()
	})
	defer stop()

	for s.store.Empty() {
		if s.closed {
			return fmt.Errorf("%w: %w", ErrInterrupted, ErrClosed)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		s.waiting++
		s.nonEmpty.Wait()
		s.waiting--
	}
	return nil
}

// notifyReaders wakes every blocked reader; each re-validates emptiness.
func (s *Stack) notifyReaders() {
	s.nonEmpty.Broadcast()
}
