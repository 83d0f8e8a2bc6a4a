// Package transport provides abstractions for connection establishment
// on both sides of a lifod endpoint.  Transports handle the "how" of
// data movement (TCP, unix sockets, or SSH-tunnelled connections)
// independent of what happens over the connection, which is the
// capability layer's job.
package transport

import (
	"context"
	"net"
)

// Dialer opens outbound connections.  Implementations are a plain
// TCP/unix dialer and an SSH-tunnelled dialer that routes traffic
// through an encrypted gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}
