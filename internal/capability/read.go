package capability

import (
	"context"
	"errors"
	"time"

	"lifod/internal/metrics"
	"lifod/internal/session"
	"lifod/internal/wire"
	"lifod/lifo"
)

// ReadEndpoint serves lifo_read: every OpRead frame becomes one
// [lifo.Reader.Read].
type ReadEndpoint struct {
	Stack   *lifo.Stack
	Metrics *metrics.Collector

	// NonBlocking is the stream mode of every connection, the way
	// O_NONBLOCK is fixed when a device is opened.  A request flag can
	// still make a single read non-blocking.
	NonBlocking bool

	// IdleTimeout closes a connection that sends nothing for that long
	// while no read is in flight.
	IdleTimeout time.Duration
}

// Handle serves read requests until the peer hangs up or ctx ends.
func (r *ReadEndpoint) Handle(ctx context.Context, sess *session.Session) error {
	reader := r.Stack.OpenReader(r.NonBlocking)

	loop := &frameLoop{
		sess: sess,
		idle: r.IdleTimeout,
		handle: func(req *request) *wire.Response {
			if req.Op != wire.OpRead {
				return notPermitted(sess, req.Op)
			}
			return r.read(req.ctx, sess, reader, req)
		},
	}
	return loop.run(ctx)
}

func (r *ReadEndpoint) read(ctx context.Context, sess *session.Session, reader *lifo.Reader, req *request) *wire.Response {
	want := int(min(req.Length, wire.MaxFrameSize))

	data, err := reader.ReadMode(ctx, want, req.NonBlocking())
	if err != nil {
		if errors.Is(err, lifo.ErrInterrupted) {
			r.Metrics.Interrupted()
		}
		sess.Logger.Debug("read of %d bytes: %v", want, err)
		return &wire.Response{Status: wire.StatusFor(err)}
	}

	r.Metrics.Popped(len(data))
	if len(data) == 0 {
		sess.Logger.Debug("read of %d bytes: no data", want)
		return &wire.Response{Status: wire.StatusOK}
	}
	sess.Logger.Debug("read %d bytes", len(data))
	return &wire.Response{Status: wire.StatusOK, Payload: data}
}
