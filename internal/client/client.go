// Package client talks to a running lifod over its two endpoints.
//
// A Client is cheap: every Push and Pop opens its own connection and
// closes it when done.  WriteConn and ReadConn keep a connection for
// callers that issue many requests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	lerrors "lifod/internal/errors"
	"lifod/internal/retry"
	"lifod/internal/transport"
	"lifod/internal/wire"
	"lifod/lifo"
	"lifod/util"
)

// cancelGrace bounds how long a cancelled read waits for the server to
// acknowledge the cancel before the connection is abandoned.
const cancelGrace = 2 * time.Second

// Client dials the lifo_write and lifo_read endpoints.
type Client struct {
	Dialer    transport.Dialer
	WriteAddr util.Endpoint
	ReadAddr  util.Endpoint

	// ChunkSize, when positive, splits a push into frames of at most
	// that many bytes.  Zero sends every push as a single frame.
	ChunkSize int

	// DialBackoff retries refused dials; PushBackoff retries the
	// remainder of a write the allocator could not take.  Nil means a
	// single attempt.
	DialBackoff *retry.Backoff
	PushBackoff *retry.Backoff

	Logger *util.Logger
}

// OpenWriter connects to lifo_write.
func (c *Client) OpenWriter(ctx context.Context) (*WriteConn, error) {
	conn, err := c.dial(ctx, c.WriteAddr)
	if err != nil {
		return nil, err
	}
	return &WriteConn{conn: conn}, nil
}

// OpenReader connects to lifo_read.
func (c *Client) OpenReader(ctx context.Context) (*ReadConn, error) {
	conn, err := c.dial(ctx, c.ReadAddr)
	if err != nil {
		return nil, err
	}
	return &ReadConn{conn: conn}, nil
}

// Push writes data to lifo_write as one frame, so the daemon checks
// all of it against the capacity at once: data that does not fit leaves
// the stack unchanged, and data longer than the capacity is truncated or
// rejected with ErrTooLarge.  It returns the bytes committed.
//
// A positive ChunkSize splits data into frames of at most that many
// bytes.  Each frame is checked on its own, so a later frame can fail
// after earlier ones were committed and other writers can interleave.
//
// A frame the allocator only partly accepted, or rejected with
// ErrOutOfMemory, is retried from where it stopped with PushBackoff.
// ErrNoSpace, ErrTooLarge and ErrClosed end the push immediately.  So
// does a truncated frame, whose excess the daemon already discarded.
func (c *Client) Push(ctx context.Context, data []byte) (int, error) {
	chunk := min(c.ChunkSize, wire.MaxFrameSize)
	if chunk <= 0 {
		if len(data) > wire.MaxFrameSize {
			return 0, fmt.Errorf("push of %d bytes exceeds the %d byte frame limit", len(data), wire.MaxFrameSize)
		}
		chunk = wire.MaxFrameSize
	}

	w, err := c.OpenWriter(ctx)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	if len(data) == 0 {
		_, err := w.Write(data)
		return 0, err
	}

	total := 0
	for total < len(data) {
		end := min(total+chunk, len(data))
		truncated := false
		err := c.pushBackoff().Do(ctx, func(attempt int) error {
			frame := data[total:end]
			n, cut, err := w.send(frame)
			total += n
			if err != nil {
				if errors.Is(err, lifo.ErrOutOfMemory) || errors.Is(err, wire.ErrRateLimited) {
					return err
				}
				return retry.Permanent(err)
			}
			if cut {
				c.Logger.Debug("write truncated to capacity: %d of %d bytes committed", n, len(frame))
				truncated = true
				return nil
			}
			if total < end {
				c.Logger.Debug("partial write: %d of %d bytes committed", total, len(data))
				return lifo.ErrOutOfMemory
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		if truncated {
			break
		}
	}
	return total, nil
}

// Pop reads up to max bytes from lifo_read.  A nil slice with a nil
// error means there was no data.
func (c *Client) Pop(ctx context.Context, max int, nonBlocking bool) ([]byte, error) {
	r, err := c.OpenReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Read(ctx, max, nonBlocking)
}

// Close releases the dialer.
func (c *Client) Close() error {
	if c.Dialer == nil {
		return nil
	}
	return c.Dialer.Close()
}

func (c *Client) pushBackoff() *retry.Backoff {
	if c.PushBackoff != nil {
		return c.PushBackoff
	}
	return &retry.Backoff{MaxAttempts: 1}
}

func (c *Client) dial(ctx context.Context, ep util.Endpoint) (net.Conn, error) {
	b := retry.Backoff{MaxAttempts: 1}
	if c.DialBackoff != nil {
		b = *c.DialBackoff
	}
	if b.Retryable == nil {
		b.Retryable = lerrors.IsRetryable
	}

	var conn net.Conn
	err := b.Do(ctx, func(attempt int) error {
		var err error
		conn, err = c.Dialer.Dial(ctx, ep.Network, ep.Address)
		if err != nil {
			c.Logger.Debug("dial %s (attempt %d): %v", ep, attempt, err)
			return lerrors.Wrap("dial", ep.String(), err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ── Connections ──────────────────────────────────────────────────────

// WriteConn is an open lifo_write connection.
type WriteConn struct {
	conn net.Conn
}

// Write sends p as one frame and returns the bytes the server committed.
// A count below len(p) with a nil error is a partial write, or a write
// the server truncated to its capacity.
func (w *WriteConn) Write(p []byte) (int, error) {
	n, _, err := w.send(p)
	return n, err
}

// send is Write that also reports whether the server truncated p.
func (w *WriteConn) send(p []byte) (n int, truncated bool, err error) {
	if err := wire.WriteRequest(w.conn, &wire.Request{Op: wire.OpWrite, Payload: p}); err != nil {
		return 0, false, lerrors.Wrap("push", w.conn.RemoteAddr().String(), err)
	}
	resp, err := wire.ReadResponse(w.conn, wire.OpWrite)
	if err != nil {
		return 0, false, lerrors.Wrap("push", w.conn.RemoteAddr().String(), err)
	}
	return int(resp.Length), resp.Truncated(), resp.Status.Err()
}

// Close closes the connection.
func (w *WriteConn) Close() error { return w.conn.Close() }

// ReadConn is an open lifo_read connection.
type ReadConn struct {
	conn net.Conn
}

type readResult struct {
	resp *wire.Response
	err  error
}

// Read asks for up to max bytes.  If ctx ends while a blocking read is
// waiting, the server is told to cancel it and Read returns an error
// matching lifo.ErrInterrupted.
func (r *ReadConn) Read(ctx context.Context, max int, nonBlocking bool) ([]byte, error) {
	if max <= 0 {
		return nil, nil
	}
	req := &wire.Request{Op: wire.OpRead, Length: uint32(min(max, wire.MaxFrameSize))}
	if nonBlocking {
		req.Flags |= wire.FlagNonBlock
	}
	addr := r.conn.RemoteAddr().String()
	if err := wire.WriteRequest(r.conn, req); err != nil {
		return nil, lerrors.Wrap("pop", addr, err)
	}

	ch := make(chan readResult, 1)
	go func() {
		resp, err := wire.ReadResponse(r.conn, wire.OpRead)
		ch <- readResult{resp, err}
	}()

	var res readResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		r.conn.SetDeadline(time.Now().Add(cancelGrace)) //nolint:errcheck
		if err := wire.WriteRequest(r.conn, &wire.Request{Op: wire.OpCancel}); err != nil {
			r.conn.Close()
		}
		res = <-ch
		r.conn.SetDeadline(time.Time{}) //nolint:errcheck
		if res.err != nil {
			return nil, fmt.Errorf("%w: %w", lifo.ErrInterrupted, ctx.Err())
		}
	}
	if res.err != nil {
		return nil, lerrors.Wrap("pop", addr, res.err)
	}
	if err := res.resp.Status.Err(); err != nil {
		if errors.Is(err, lifo.ErrInterrupted) && ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return nil, err
	}
	return res.resp.Payload, nil
}

// Close closes the connection.
func (r *ReadConn) Close() error { return r.conn.Close() }
