package wire

import (
	"errors"
	"fmt"

	"lifod/lifo"
)

// Status is the outcome carried by a response.
type Status uint8

const (
	StatusOK           Status = 0x00
	StatusNoSpace      Status = 0x01
	StatusOutOfMemory  Status = 0x02
	StatusInterrupted  Status = 0x03
	StatusClosed       Status = 0x04
	StatusTooLarge     Status = 0x05
	StatusNotPermitted Status = 0x06
	StatusRateLimited  Status = 0x07
	StatusBadRequest   Status = 0x08
)

// Errors without a counterpart in package lifo.
var (
	ErrNotPermitted = errors.New("operation not permitted on this endpoint")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrBadRequest   = errors.New("bad request")
)

var statusNames = map[Status]string{
	StatusOK:           "ok",
	StatusNoSpace:      "no-space",
	StatusOutOfMemory:  "out-of-memory",
	StatusInterrupted:  "interrupted",
	StatusClosed:       "closed",
	StatusTooLarge:     "too-large",
	StatusNotPermitted: "not-permitted",
	StatusRateLimited:  "rate-limited",
	StatusBadRequest:   "bad-request",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(0x%02x)", uint8(s))
}

// StatusFor maps a data-path error to its wire status.  Interruption is
// checked before closure: a reader released by teardown reports
// StatusInterrupted.
func StatusFor(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, lifo.ErrInterrupted):
		return StatusInterrupted
	case errors.Is(err, lifo.ErrNoSpace):
		return StatusNoSpace
	case errors.Is(err, lifo.ErrOutOfMemory):
		return StatusOutOfMemory
	case errors.Is(err, lifo.ErrTooLarge):
		return StatusTooLarge
	case errors.Is(err, lifo.ErrClosed):
		return StatusClosed
	case errors.Is(err, ErrNotPermitted):
		return StatusNotPermitted
	case errors.Is(err, ErrRateLimited):
		return StatusRateLimited
	default:
		return StatusBadRequest
	}
}

// Err maps a status back to the error a local caller would have seen.
func (s Status) Err() error {
	switch s {
	case StatusOK:
		return nil
	case StatusNoSpace:
		return lifo.ErrNoSpace
	case StatusOutOfMemory:
		return lifo.ErrOutOfMemory
	case StatusInterrupted:
		return lifo.ErrInterrupted
	case StatusClosed:
		return lifo.ErrClosed
	case StatusTooLarge:
		return lifo.ErrTooLarge
	case StatusNotPermitted:
		return ErrNotPermitted
	case StatusRateLimited:
		return ErrRateLimited
	default:
		return fmt.Errorf("%w: %s", ErrBadRequest, s)
	}
}
