package transport

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"lifod/util"
)

// NetDialer establishes plain TCP or unix-socket connections.
type NetDialer struct {
	Timeout time.Duration
}

// Dial connects to address over network ("tcp" or "unix").
func (d *NetDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, network, address)
}

// Close is a no-op for stateless dialers.
func (d *NetDialer) Close() error { return nil }

// Listen opens a listener on ep.  A stale unix socket file left by a
// previous run is removed first; a live one is reported as in use.
func Listen(ctx context.Context, ep util.Endpoint) (net.Listener, error) {
	if ep.Network == "unix" {
		if err := removeStaleSocket(ctx, ep.Address); err != nil {
			return nil, err
		}
	}
	var lc net.ListenConfig
	return lc.Listen(ctx, ep.Network, ep.Address)
}

func removeStaleSocket(ctx context.Context, path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	dialer := net.Dialer{Timeout: 200 * time.Millisecond}
	if conn, err := dialer.DialContext(ctx, "unix", path); err == nil {
		conn.Close()
		return fmt.Errorf("%s: address already in use", path)
	}
	return os.Remove(path)
}
