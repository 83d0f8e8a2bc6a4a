package capability

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"lifod/internal/metrics"
	"lifod/internal/session"
	"lifod/internal/wire"
	"lifod/lifo"
)

// WriteEndpoint serves lifo_write: every OpWrite frame becomes one
// [lifo.Writer.Write].
type WriteEndpoint struct {
	Writer  *lifo.Writer
	Metrics *metrics.Collector

	// Rate and Burst configure a per-connection token bucket.  A zero
	// Rate disables limiting.
	Rate  rate.Limit
	Burst int

	// IdleTimeout closes a connection that sends nothing for that long.
	IdleTimeout time.Duration
}

// Handle serves write requests until the peer hangs up or ctx ends.
func (w *WriteEndpoint) Handle(ctx context.Context, sess *session.Session) error {
	var limiter *rate.Limiter
	if w.Rate > 0 {
		limiter = rate.NewLimiter(w.Rate, max(w.Burst, 1))
	}

	loop := &frameLoop{
		sess: sess,
		idle: w.IdleTimeout,
		handle: func(req *request) *wire.Response {
			if req.Op != wire.OpWrite {
				return notPermitted(sess, req.Op)
			}
			if limiter != nil && !limiter.Allow() {
				w.Metrics.RateLimited()
				sess.Logger.Debug("write of %d bytes rate limited", len(req.Payload))
				return &wire.Response{Status: wire.StatusRateLimited}
			}
			return w.write(sess, req.Payload)
		},
	}
	return loop.run(ctx)
}

func (w *WriteEndpoint) write(sess *session.Session, p []byte) *wire.Response {
	n, err := w.Writer.Write(p)
	resp := &wire.Response{Status: wire.StatusFor(err), Length: uint32(n)}
	switch {
	case err == nil:
		if n > 0 {
			w.Metrics.Pushed(n)
		}
		if len(p) > w.Writer.Cap() {
			resp.Flags |= wire.FlagTruncated
			sess.Logger.Debug("write of %d bytes truncated, %d committed", len(p), n)
		} else if n < len(p) {
			sess.Logger.Debug("partial write: %d of %d bytes", n, len(p))
		} else {
			sess.Logger.Debug("wrote %d bytes", n)
		}
	case errors.Is(err, lifo.ErrNoSpace):
		w.Metrics.NoSpace()
		sess.Logger.Debug("write of %d bytes: %v", len(p), err)
	case errors.Is(err, lifo.ErrOutOfMemory):
		w.Metrics.OutOfMemory()
		sess.Logger.Debug("write of %d bytes: %v", len(p), err)
	default:
		sess.Logger.Debug("write of %d bytes: %v", len(p), err)
	}
	return resp
}
