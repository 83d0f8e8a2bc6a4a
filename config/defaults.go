package config

import (
	"time"

	"lifod/lifo"
)

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultWriteAddr is where lifo_write listens.
	DefaultWriteAddr = "127.0.0.1:7301"

	// DefaultReadAddr is where lifo_read listens.
	DefaultReadAddr = "127.0.0.1:7302"

	// DefaultCapacity bounds the bytes the stack holds at once.
	DefaultCapacity = lifo.MaxCapacity

	// DefaultReadCount is how many bytes pop asks for.
	DefaultReadCount = 1023

	// DefaultChunkSize is the largest payload push sends per frame.  Zero
	// sends the whole input as one frame.
	DefaultChunkSize = 0

	// DefaultMaxConns caps concurrent connections per endpoint.
	DefaultMaxConns = 64

	// DefaultWriteBurst is the token bucket size when write-rate is set.
	DefaultWriteBurst = 16

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAliveInterval is the SSH keepalive interval in seconds.
	DefaultKeepAliveInterval = 30

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 10 * time.Second

	// DefaultDialRetries is how many times a client redials a refused
	// endpoint.
	DefaultDialRetries = 3

	// DefaultMaxReconnectBackoff caps the exponential backoff between
	// dial and push retries.
	DefaultMaxReconnectBackoff = 5 * time.Second

	// DefaultGracePeriod is how long shutdown waits for handlers to
	// finish.
	DefaultGracePeriod = 5 * time.Second

	// EnvPrefix prefixes every environment variable.
	EnvPrefix = "LIFOD"
)
