package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"lifod/internal/capability"
	"lifod/internal/metrics"
	"lifod/internal/session"
	"lifod/internal/transport"
	"lifod/lifo"
	"lifod/tunnel"
	"lifod/util"
)

// ServeMode is the daemon.  It owns one stack and serves it on two
// endpoints: lifo_write accepts only writes and lifo_read only reads.
type ServeMode struct {
	Stack     *lifo.Stack
	WriteAddr util.Endpoint
	ReadAddr  util.Endpoint

	// ReadNonBlock opens every lifo_read connection non-blocking.
	ReadNonBlock bool

	// MaxConns caps concurrent connections per endpoint; 0 is unbounded.
	MaxConns    int
	IdleTimeout time.Duration

	// WriteRate and WriteBurst configure per-connection write limiting.
	WriteRate  rate.Limit
	WriteBurst int

	// GracePeriod bounds how long shutdown waits for handlers.
	GracePeriod time.Duration

	// MetricsAddr, when set, serves /stats and /metrics.
	MetricsAddr *util.Endpoint
	Metrics     *metrics.Collector

	// Tunnel, when set, also publishes both endpoints on the SSH gateway.
	Tunnel tunnel.Tunnel

	Logger *util.Logger
}

// Run listens on both endpoints and serves until ctx is cancelled, then
// shuts down: listeners close, the stack is closed (waking blocked
// readers with ErrInterrupted), connections drain, and stragglers are
// closed once the grace period lapses.
func (m *ServeMode) Run(ctx context.Context) error {
	conns := newConnSet()
	acceptors, err := m.listen(ctx, conns)
	if err != nil {
		m.Stack.Close()
		return err
	}

	var msrv *http.Server
	var mln net.Listener
	if m.MetricsAddr != nil {
		msrv, mln, err = m.metricsServer(ctx)
		if err != nil {
			closeListeners(acceptors)
			if m.Tunnel != nil {
				m.Tunnel.Close() //nolint:errcheck
			}
			m.Stack.Close()
			return err
		}
	}

	// Handlers outlive ctx so that shutdown can answer blocked reads
	// before their connections go away.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range acceptors {
		g.Go(func() error { return a.serve(gctx, connCtx) })
	}
	if msrv != nil {
		g.Go(func() error {
			err := msrv.Serve(mln)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("metrics: %w", err)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		m.shutdown(acceptors, conns, cancelConns, msrv)
		return nil
	})

	err = g.Wait()
	if m.Tunnel != nil {
		m.Tunnel.Close() //nolint:errcheck
	}
	return err
}

// listen opens the local listeners, and the gateway listeners when a
// tunnel is configured.
func (m *ServeMode) listen(ctx context.Context, conns *connSet) ([]*acceptor, error) {
	writeLimit := newConnLimit(m.MaxConns)
	readLimit := newConnLimit(m.MaxConns)

	writer := &capability.WriteEndpoint{
		Writer:      m.Stack.Writer(),
		Metrics:     m.Metrics,
		Rate:        m.WriteRate,
		Burst:       m.WriteBurst,
		IdleTimeout: m.IdleTimeout,
	}
	reader := &capability.ReadEndpoint{
		Stack:       m.Stack,
		Metrics:     m.Metrics,
		NonBlocking: m.ReadNonBlock,
		IdleTimeout: m.IdleTimeout,
	}

	endpoints := []struct {
		role    session.Role
		ep      util.Endpoint
		handler capability.Capability
		limit   *connLimit
	}{
		{session.RoleWrite, m.WriteAddr, writer, writeLimit},
		{session.RoleRead, m.ReadAddr, reader, readLimit},
	}

	var acceptors []*acceptor
	for _, e := range endpoints {
		ln, err := transport.Listen(ctx, e.ep)
		if err != nil {
			closeListeners(acceptors)
			return nil, fmt.Errorf("listen %s on %s: %w", e.role, e.ep, err)
		}
		m.Logger.Info("%s listening on %s (%s)", e.role, ln.Addr(), e.ep.Network)
		acceptors = append(acceptors, &acceptor{
			role: e.role, ln: ln, capability: e.handler, limit: e.limit,
			conns: conns, metrics: m.Metrics, logger: m.Logger,
		})
	}

	if m.Tunnel == nil {
		return acceptors, nil
	}
	if err := m.Tunnel.Connect(ctx); err != nil {
		closeListeners(acceptors)
		return nil, fmt.Errorf("tunnel: %w", err)
	}
	for _, e := range endpoints {
		ln, err := m.Tunnel.Listen(e.ep.Network, e.ep.Address)
		if err != nil {
			closeListeners(acceptors)
			m.Tunnel.Close() //nolint:errcheck
			return nil, fmt.Errorf("publish %s on gateway: %w", e.role, err)
		}
		m.Logger.Info("%s published on gateway as %s", e.role, ln.Addr())
		acceptors = append(acceptors, &acceptor{
			role: e.role, ln: ln, capability: e.handler, limit: e.limit,
			conns: conns, metrics: m.Metrics, logger: m.Logger, remote: true,
		})
	}
	return acceptors, nil
}

func (m *ServeMode) metricsServer(ctx context.Context) (*http.Server, net.Listener, error) {
	reg := prometheus.NewRegistry()
	if err := m.Metrics.Register(reg, m.Stack); err != nil {
		return nil, nil, fmt.Errorf("metrics: %w", err)
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ln, err := transport.Listen(ctx, *m.MetricsAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("metrics: listen on %s: %w", m.MetricsAddr, err)
	}
	m.Logger.Info("metrics listening on %s", ln.Addr())

	srv := &http.Server{
		Handler:           m.Metrics.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, ln, nil
}

func (m *ServeMode) shutdown(acceptors []*acceptor, conns *connSet, cancelConns context.CancelFunc, msrv *http.Server) {
	m.Logger.Info("shutting down")

	closeListeners(acceptors)
	conns.seal()

	m.Stack.Close()
	cancelConns()

	grace := m.GracePeriod
	if !conns.wait(grace) {
		m.Logger.Warn("%d connections still open after %s, closing them", conns.len(), grace)
		conns.closeAll()
		conns.wait(grace)
	}

	if msrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), max(grace, time.Second))
		defer cancel()
		if err := msrv.Shutdown(ctx); err != nil {
			m.Logger.Warn("metrics shutdown: %v", err)
		}
	}
	m.Logger.Verbose("shutdown complete")
}

func closeListeners(acceptors []*acceptor) {
	for _, a := range acceptors {
		a.ln.Close()
	}
}
