package capability

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	lerrors "lifod/internal/errors"
	"lifod/internal/session"
	"lifod/internal/wire"
	"lifod/util"
)

// request is a decoded frame plus the context it runs under.
type request struct {
	*wire.Request
	ctx    context.Context
	cancel context.CancelFunc
	err    error // set for a malformed frame; Request is nil then

	cancelled bool // guarded by pendingQueue.mu
}

// handlerFunc serves one request and returns its response.
type handlerFunc func(req *request) *wire.Response

// frameLoop drives a connection.  A reader goroutine decodes frames and
// owns cancellation: OpCancel cancels the oldest unanswered request and
// the peer hanging up cancels every request.  The reader never waits on
// the handler, so a cancel is seen even behind pipelined requests; more
// than wire.MaxPipelined unanswered requests end the connection.
// Responses are written only from the calling goroutine, one per
// dispatched request, in order.
//
// idle, when positive, closes a connection that sends nothing for that
// long while no request is in flight.
type frameLoop struct {
	sess   *session.Session
	idle   time.Duration
	handle handlerFunc
}

func (f *frameLoop) run(ctx context.Context) error {
	conn := f.sess.Conn
	connCtx, connCancel := context.WithCancel(ctx)
	defer connCancel()

	// Unblock the reader when the server shuts down.
	stop := context.AfterFunc(connCtx, func() { conn.SetReadDeadline(time.Now()) }) //nolint:errcheck
	defer stop()

	var pending pendingQueue
	// One extra slot holds a malformed-frame marker when the queue is full.
	reqs := make(chan *request, wire.MaxPipelined+1)
	readErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(reqs)
		readErr <- f.readFrames(connCtx, connCancel, &pending, reqs)
	}()

	var handleErr error
	broken := false
	for req := range reqs {
		if broken {
			if req.cancel != nil {
				pending.remove(req)
				req.cancel()
			}
			continue // drain until the reader exits
		}
		if req.err != nil {
			f.respond(&wire.Response{Status: wire.StatusBadRequest}) //nolint:errcheck
			handleErr = &lerrors.ProtocolError{Endpoint: string(f.sess.Role), Err: req.err}
			broken = true
			connCancel()
			continue
		}

		resp := f.handle(req)
		pending.remove(req)
		req.cancel()

		if err := f.respond(resp); err != nil {
			if !util.IsHarmless(err) {
				handleErr = err
			}
			broken = true
			connCancel()
		}
	}
	wg.Wait()

	if handleErr != nil {
		return handleErr
	}
	if err := <-readErr; err != nil && !util.IsHarmless(err) && ctx.Err() == nil {
		return err
	}
	return nil
}

func (f *frameLoop) respond(resp *wire.Response) error {
	if f.idle > 0 {
		f.sess.Conn.SetWriteDeadline(time.Now().Add(f.idle)) //nolint:errcheck
	}
	return wire.WriteResponse(f.sess.Conn, resp)
}

// readFrames runs on its own goroutine until the peer hangs up, a frame
// is malformed, or connCtx ends.  It cancels connCtx on the way out so a
// blocked read is released when its caller goes away.
func (f *frameLoop) readFrames(connCtx context.Context, connCancel context.CancelFunc,
	pending *pendingQueue, reqs chan<- *request) error {
	defer connCancel()

	conn := f.sess.Conn
	br := bufio.NewReader(conn)

	for {
		if connCtx.Err() != nil {
			return nil
		}

		// Wait for the first byte of a frame without consuming it, so a
		// deadline can lapse and be renewed without tearing a frame.
		if f.idle > 0 {
			conn.SetReadDeadline(time.Now().Add(f.idle)) //nolint:errcheck
		}
		if _, err := br.Peek(1); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() && connCtx.Err() == nil {
				if pending.len() > 0 {
					continue
				}
				f.sess.Logger.Verbose("idle for %s, closing", f.idle)
				return nil
			}
			return err
		}
		conn.SetReadDeadline(time.Time{}) //nolint:errcheck

		req, err := wire.ReadRequest(br)
		if err != nil {
			var fe *wire.FrameError
			if errors.As(err, &fe) {
				reqs <- &request{err: err}
			}
			return err
		}

		if req.Op == wire.OpCancel {
			if pending.cancelOldest() {
				f.sess.Logger.Debug("cancel requested")
			}
			continue
		}

		if pending.len() >= wire.MaxPipelined {
			err := &wire.FrameError{Reason: fmt.Sprintf("more than %d requests pipelined", wire.MaxPipelined)}
			reqs <- &request{err: err}
			return err
		}
		reqCtx, cancel := context.WithCancel(connCtx)
		r := &request{Request: req, ctx: reqCtx, cancel: cancel}
		pending.push(r)
		reqs <- r
	}
}

// pendingQueue holds the requests that have been read but not yet
// answered, oldest first.
type pendingQueue struct {
	mu   sync.Mutex
	reqs []*request
}

func (q *pendingQueue) push(r *request) {
	q.mu.Lock()
	q.reqs = append(q.reqs, r)
	q.mu.Unlock()
}

func (q *pendingQueue) remove(r *request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, p := range q.reqs {
		if p == r {
			q.reqs = append(q.reqs[:i], q.reqs[i+1:]...)
			return
		}
	}
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.reqs)
}

// cancelOldest cancels the oldest unanswered request, skipping any that
// a previous cancel already hit.  It reports whether one was found.
func (q *pendingQueue) cancelOldest() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.reqs {
		if !r.cancelled {
			r.cancelled = true
			r.cancel()
			return true
		}
	}
	return false
}
