// Package tunnel reaches lifod endpoints through an SSH gateway, backed
// by golang.org/x/crypto/ssh.  Clients dial endpoints on the far side;
// a daemon can also publish its endpoints as listeners on the gateway.
package tunnel

import (
	"context"
	"net"
)

// Tunnel abstracts an encrypted channel through which stream
// connections can be forwarded in either direction.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Dial opens a connection to address through the tunnel.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Listen asks the gateway to listen on address and forward
	// accepted connections back through the tunnel.
	Listen(network, address string) (net.Listener, error)

	// Close tears down the tunnel and frees resources.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}
