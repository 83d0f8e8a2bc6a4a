package util

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrInputTooLarge is returned by ReadLimited when the input exceeds the
// limit.
var ErrInputTooLarge = errors.New("input exceeds limit")

// ReadLimited reads r to EOF, failing once more than limit bytes arrive.
func ReadLimited(r io.Reader, limit int) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(data) > limit {
		return nil, fmt.Errorf("%w (%d bytes)", ErrInputTooLarge, limit)
	}
	return data, nil
}

// IsHarmless returns true for errors that are expected when a peer hangs
// up or the server shuts down.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
