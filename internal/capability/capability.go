// Package capability defines what happens over an established
// connection.  Each Capability serves one lifod endpoint and operates on
// a Session rather than a raw net.Conn, which keeps handlers testable
// and decoupled from transport details.
package capability

import (
	"context"

	"lifod/internal/session"
	"lifod/internal/wire"
)

// Capability handles a single connection according to a specific
// behaviour.  Implementations are WriteEndpoint and ReadEndpoint.
type Capability interface {
	// Handle runs the capability against the given session.
	// It blocks until the connection is done or the context is
	// cancelled.
	Handle(ctx context.Context, sess *session.Session) error
}

// notPermitted answers a request sent to the wrong endpoint.
func notPermitted(sess *session.Session, op wire.Op) *wire.Response {
	sess.Logger.Debug("%s refused on %s", op, sess.Role)
	return &wire.Response{Status: wire.StatusNotPermitted}
}
