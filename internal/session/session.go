// Package session represents a single connection lifecycle, binding a
// network connection to the endpoint it arrived on and a logger scoped
// to it.
//
// Capabilities operate on sessions rather than raw connections, so a
// handler does not need to know whether it is serving TCP, a unix
// socket or a net.Pipe in a test.
package session

import (
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifod/util"
)

// Role names the endpoint a session is attached to.
type Role string

const (
	RoleWrite Role = "lifo_write"
	RoleRead  Role = "lifo_read"
)

// Session encapsulates the runtime context for a single connection.
type Session struct {
	ID      string
	Role    Role
	Conn    net.Conn
	Logger  *util.Logger
	Started time.Time
}

// New creates a Session with a fresh ID.  The logger is scoped with the
// short session ID, the role and the peer address.
func New(conn net.Conn, role Role, logger *util.Logger) *Session {
	remote := "unknown"
	if addr := conn.RemoteAddr(); addr != nil && addr.String() != "" {
		remote = addr.String()
	}
	s := &Session{
		ID:      uuid.NewString(),
		Role:    role,
		Conn:    conn,
		Started: time.Now(),
	}
	s.Logger = logger.With(
		zap.String("session", s.ShortID()),
		zap.String("endpoint", string(role)),
		zap.String("remote", remote),
	)
	return s
}

// ShortID returns the first eight characters of the ID for log lines.
func (s *Session) ShortID() string {
	if len(s.ID) < 8 {
		return s.ID
	}
	return s.ID[:8]
}
