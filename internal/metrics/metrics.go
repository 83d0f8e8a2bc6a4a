// Package metrics provides lightweight, lock-free counters and gauges
// for tracking runtime statistics of a lifod daemon.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a lifod daemon.
// A nil Collector is safe to use: all methods become no-ops.
type Collector struct {
	connectionsActive  atomic.Int64
	connectionsTotal   atomic.Int64
	connectionsRefused atomic.Int64

	writes      atomic.Int64
	reads       atomic.Int64
	emptyReads  atomic.Int64
	bytesPushed atomic.Int64
	bytesPopped atomic.Int64

	noSpace     atomic.Int64
	outOfMemory atomic.Int64
	interrupted atomic.Int64
	rateLimited atomic.Int64
	errorsTotal atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connection metrics ───────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ConnectionRefused records a connection dropped at the max-conns limit.
func (c *Collector) ConnectionRefused() {
	if c == nil {
		return
	}
	c.connectionsRefused.Add(1)
}

// ActiveConnections returns the current number of open connections.
func (c *Collector) ActiveConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsActive.Load()
}

// TotalConnections returns the lifetime connection count.
func (c *Collector) TotalConnections() int64 {
	if c == nil {
		return 0
	}
	return c.connectionsTotal.Load()
}

// ── Data path ────────────────────────────────────────────────────────

// Pushed records a write that committed n bytes.
func (c *Collector) Pushed(n int) {
	if c == nil {
		return
	}
	c.writes.Add(1)
	c.bytesPushed.Add(int64(n))
}

// Popped records a read that returned n bytes; n == 0 is an empty read.
func (c *Collector) Popped(n int) {
	if c == nil {
		return
	}
	c.reads.Add(1)
	if n == 0 {
		c.emptyReads.Add(1)
		return
	}
	c.bytesPopped.Add(int64(n))
}

// NoSpace records a write rejected at capacity.
func (c *Collector) NoSpace() {
	if c == nil {
		return
	}
	c.noSpace.Add(1)
}

// OutOfMemory records a write that could not allocate a single unit.
func (c *Collector) OutOfMemory() {
	if c == nil {
		return
	}
	c.outOfMemory.Add(1)
}

// Interrupted records a blocking read ended by cancel or shutdown.
func (c *Collector) Interrupted() {
	if c == nil {
		return
	}
	c.interrupted.Add(1)
}

// RateLimited records a request refused by the per-connection limiter.
func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Add(1)
}

// BytesPushed returns total bytes committed to the stack.
func (c *Collector) BytesPushed() int64 {
	if c == nil {
		return 0
	}
	return c.bytesPushed.Load()
}

// BytesPopped returns total bytes delivered to readers.
func (c *Collector) BytesPopped() int64 {
	if c == nil {
		return 0
	}
	return c.bytesPopped.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime             string `json:"uptime"`
	ConnectionsActive  int64  `json:"connections_active"`
	ConnectionsTotal   int64  `json:"connections_total"`
	ConnectionsRefused int64  `json:"connections_refused"`
	Writes             int64  `json:"writes"`
	Reads              int64  `json:"reads"`
	EmptyReads         int64  `json:"empty_reads"`
	BytesPushed        int64  `json:"bytes_pushed"`
	BytesPopped        int64  `json:"bytes_popped"`
	NoSpace            int64  `json:"no_space"`
	OutOfMemory        int64  `json:"out_of_memory"`
	Interrupted        int64  `json:"interrupted"`
	RateLimited        int64  `json:"rate_limited"`
	ErrorsTotal        int64  `json:"errors_total"`
	LastError          string `json:"last_error,omitempty"`
	LastErrorMessage   string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:             time.Since(c.startTime).Truncate(time.Second).String(),
		ConnectionsActive:  c.connectionsActive.Load(),
		ConnectionsTotal:   c.connectionsTotal.Load(),
		ConnectionsRefused: c.connectionsRefused.Load(),
		Writes:             c.writes.Load(),
		Reads:              c.reads.Load(),
		EmptyReads:         c.emptyReads.Load(),
		BytesPushed:        c.bytesPushed.Load(),
		BytesPopped:        c.bytesPopped.Load(),
		NoSpace:            c.noSpace.Load(),
		OutOfMemory:        c.outOfMemory.Load(),
		Interrupted:        c.interrupted.Load(),
		RateLimited:        c.rateLimited.Load(),
		ErrorsTotal:        c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
