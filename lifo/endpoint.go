package lifo

import (
	"context"
	"errors"
)

// Writer is the write-only half of a [Stack].
//
// Writer.Write does not satisfy the io.Writer contract: a short count
// with a nil error is a legitimate partial success when the allocator is
// exhausted.
type Writer struct {
	s *Stack
}

// Cap returns the capacity of the stack.  A longer write is truncated
// to it or rejected.
func (w *Writer) Cap() int { return w.s.capacity }

// Write pushes p onto the stack so that its last byte ends up on top.
//
// An empty p returns (0, nil) without touching the stack.  A p longer
// than the capacity is truncated to the capacity, or rejected with
// ErrTooLarge when the stack was configured with RejectOversize.
//
// The capacity check is all-or-nothing: if the bytes do not fit under
// the current occupancy the stack is left unmodified and ErrNoSpace is
// returned.  Past that check, bytes are committed as far as the
// allocator allows.  The returned count reports the prefix committed;
// ErrOutOfMemory is returned only if that prefix is empty.
func (w *Writer) Write(p []byte) (int, error) {
	s := w.s
	if len(p) == 0 {
		return 0, nil
	}
	if len(p) > s.capacity {
		if s.rejectOversize {
			return 0, ErrTooLarge
		}
		p = p[:s.capacity]
	}

	var n int
	err := s.withExclusiveAccess(func(st *Store) error {
		if st.Len()+len(p) > s.capacity {
			return ErrNoSpace
		}
		n = st.PushFront(p)
		if n == 0 {
			return ErrOutOfMemory
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.notifyReaders()
	return n, nil
}

// Reader is a read-only half of a [Stack].  Its blocking mode is fixed
// when it is opened.
type Reader struct {
	s           *Stack
	nonBlocking bool
}

// NonBlocking reports whether the reader was opened non-blocking.
func (r *Reader) NonBlocking() bool { return r.nonBlocking }

// Read removes up to max bytes from the top of the stack and returns
// them, most recently written first.
//
// A nil slice with a nil error means no data: max was not positive, the
// reader is non-blocking and the stack was empty, or a racing reader
// drained the stack between wake-up and re-acquisition.  A blocking read
// waits for data; cancelling ctx ends the wait with an error matching
// ErrInterrupted and consumes nothing.
func (r *Reader) Read(ctx context.Context, max int) ([]byte, error) {
	return r.read(ctx, max, !r.nonBlocking)
}

// ReadMode is like Read but overrides the reader's blocking mode for one
// call.  A caller that opened the reader non-blocking cannot make it
// block.
func (r *Reader) ReadMode(ctx context.Context, max int, nonBlocking bool) ([]byte, error) {
	return r.read(ctx, max, !(r.nonBlocking || nonBlocking))
}

func (r *Reader) read(ctx context.Context, max int, blocking bool) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}
	s := r.s

	if err := s.waitUntilNonEmpty(ctx, blocking); err != nil {
		if errors.Is(err, ErrWouldBlock) {
			return nil, nil
		}
		return nil, err
	}

	var out []byte
	err := s.withExclusiveAccess(func(st *Store) error {
		if st.Empty() {
			return nil
		}
		out = st.PopFront(min(max, st.Len()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
