package lifo

import "errors"

// ── Sentinel errors ──────────────────────────────────────────────────
//
// Every result of the data path maps onto exactly one of these.  An
// empty read is not an error: it is reported as a nil slice.

var (
	// ErrNoSpace rejects a write that does not fit under the current
	// occupancy.  The stack is left unmodified.
	ErrNoSpace = errors.New("lifo: no space left on device")

	// ErrOutOfMemory reports that not a single unit of a write could be
	// allocated.  It is transient; a partial allocation is reported as a
	// short count instead.
	ErrOutOfMemory = errors.New("lifo: cannot allocate memory")

	// ErrWouldBlock is returned by the wait primitive when a non-blocking
	// caller finds the stack empty.  Readers translate it to an empty
	// result.
	ErrWouldBlock = errors.New("lifo: operation would block")

	// ErrInterrupted reports that a blocked read was cancelled before
	// data arrived.  Nothing was consumed.
	ErrInterrupted = errors.New("lifo: interrupted")

	// ErrClosed is returned once the stack has been torn down.
	ErrClosed = errors.New("lifo: stack closed")

	// ErrTooLarge rejects a single write larger than the capacity when
	// the stack is configured with RejectOversize.
	ErrTooLarge = errors.New("lifo: write larger than capacity")
)
