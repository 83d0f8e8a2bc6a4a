package core

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"lifod/internal/capability"
	"lifod/internal/metrics"
	"lifod/internal/session"
	"lifod/util"
)

// acceptor runs the accept loop of one listener and hands every
// connection to the endpoint's capability.
type acceptor struct {
	role       session.Role
	ln         net.Listener
	capability capability.Capability
	limit      *connLimit
	conns      *connSet
	metrics    *metrics.Collector
	logger     *util.Logger

	// remote marks a listener published on the SSH gateway.  Losing it
	// is logged, not fatal: the local listeners keep serving.
	remote bool
}

// serve accepts until ctx ends or the listener fails.  Connections run
// under connCtx, which outlives ctx so shutdown can drain them in order.
func (a *acceptor) serve(ctx, connCtx context.Context) error {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if a.remote {
				a.logger.Warn("%s on gateway stopped accepting: %v", a.role, err)
				return nil
			}
			return fmt.Errorf("accept on %s: %w", a.ln.Addr(), err)
		}

		if !a.limit.acquire() {
			a.metrics.ConnectionRefused()
			a.logger.Warn("%s: refusing %s, %d connections open", a.role, conn.RemoteAddr(), a.limit.max())
			conn.Close()
			continue
		}
		if !a.conns.add(conn) {
			a.limit.release()
			conn.Close()
			continue
		}

		go a.serveConn(connCtx, conn)
	}
}

func (a *acceptor) serveConn(ctx context.Context, conn net.Conn) {
	a.metrics.ConnectionOpened()
	defer a.metrics.ConnectionClosed()
	defer a.limit.release()
	defer a.conns.done(conn)
	defer conn.Close()

	sess := session.New(conn, a.role, a.logger)
	sess.Logger.Verbose("connection opened")

	if err := a.capability.Handle(ctx, sess); err != nil && !util.IsHarmless(err) {
		a.metrics.RecordError(err.Error())
		sess.Logger.Warn("connection closed after %s: %v", time.Since(sess.Started).Round(time.Millisecond), err)
		return
	}
	sess.Logger.Verbose("connection closed after %s", time.Since(sess.Started).Round(time.Millisecond))
}

// ── Connection bookkeeping ───────────────────────────────────────────

// connLimit is a counting semaphore.  A nil *connLimit is unbounded.
type connLimit struct {
	slots chan struct{}
}

func newConnLimit(n int) *connLimit {
	if n <= 0 {
		return nil
	}
	return &connLimit{slots: make(chan struct{}, n)}
}

func (l *connLimit) acquire() bool {
	if l == nil {
		return true
	}
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (l *connLimit) release() {
	if l != nil {
		<-l.slots
	}
}

func (l *connLimit) max() int {
	if l == nil {
		return 0
	}
	return cap(l.slots)
}

// connSet tracks open connections so shutdown can wait for their
// handlers and force-close stragglers.
type connSet struct {
	mu     sync.Mutex
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
	closed bool

	drainOnce sync.Once
	drained   chan struct{} // closed once every handler has returned
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[net.Conn]struct{})}
}

// add registers conn.  It refuses once the set is sealed.
func (s *connSet) add(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *connSet) done(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *connSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// seal stops add from accepting new connections.
func (s *connSet) seal() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// closeAll closes every tracked connection.
func (s *connSet) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
}

// wait blocks until every handler has returned or d elapses, and
// reports whether they all returned.  It must follow seal.  Every call
// shares one watcher goroutine, which exits with the last handler.
func (s *connSet) wait(d time.Duration) bool {
	s.drainOnce.Do(func() {
		s.drained = make(chan struct{})
		go func() {
			s.wg.Wait()
			close(s.drained)
		}()
	})
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.drained:
		return true
	case <-t.C:
		return false
	}
}
