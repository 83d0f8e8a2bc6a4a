package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Endpoint is a listen or dial address with its network.
type Endpoint struct {
	Network string // "tcp" or "unix"
	Address string
}

// ParseEndpoint accepts "unix:/path/to.sock", "tcp:host:port" or a bare
// "host:port" (tcp).
func ParseEndpoint(s string) (Endpoint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}

	network, addr := "tcp", s
	switch {
	case strings.HasPrefix(s, "unix:"):
		network, addr = "unix", strings.TrimPrefix(s, "unix:")
		if addr == "" {
			return Endpoint{}, fmt.Errorf("endpoint %q: missing socket path", s)
		}
		return Endpoint{Network: network, Address: addr}, nil
	case strings.HasPrefix(s, "tcp:"):
		addr = strings.TrimPrefix(s, "tcp:")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Endpoint{}, fmt.Errorf("endpoint %q: %w", s, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("endpoint %q: invalid port %q", s, portStr)
	}
	return Endpoint{Network: network, Address: net.JoinHostPort(host, portStr)}, nil
}

// String renders the endpoint in the form ParseEndpoint accepts.
func (e Endpoint) String() string {
	if e.Network == "unix" {
		return "unix:" + e.Address
	}
	return e.Address
}

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// FindFreePort returns an available TCP port on 127.0.0.1.
func FindFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("finding free port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
