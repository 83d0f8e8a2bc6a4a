package tunnel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	lerrors "lifod/internal/errors"
	"lifod/util"
)

// SSHConfig holds everything needed to dial an SSH gateway.
type SSHConfig struct {
	User          string
	Host          string
	Port          int
	KeyPath       string
	PromptPass    bool
	UseAgent      bool
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// KeepAlive sends keepalive@openssh.com at this interval and marks
	// the tunnel dead when one fails.  Zero disables it.
	KeepAlive time.Duration
}

// Addr returns the gateway address.
func (c *SSHConfig) Addr() string {
	return util.FormatAddr(c.Host, c.Port)
}

// SSHTunnel implements [Tunnel] over a single ssh.Client.
type SSHTunnel struct {
	config *SSHConfig
	client *ssh.Client
	logger *util.Logger
	mu     sync.RWMutex
	alive  bool
	done   chan struct{}
}

// NewSSHTunnel creates a tunnel that is ready to [SSHTunnel.Connect].
func NewSSHTunnel(cfg *SSHConfig, logger *util.Logger) *SSHTunnel {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHTunnel{config: cfg, logger: logger}
}

// Connect dials the SSH gateway and completes the handshake.
func (t *SSHTunnel) Connect(ctx context.Context) error {
	authMethods, err := BuildAuthMethods(t.config)
	if err != nil {
		return lerrors.WrapSSH("auth", t.config.Host, t.config.Port, err)
	}

	hkCallback, err := hostKeyCallback(t.config)
	if err != nil {
		return lerrors.WrapSSH("hostkey", t.config.Host, t.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            t.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         t.config.ConnTimeout,
	}

	addr := t.config.Addr()
	t.logger.Debug("SSH: dialing %s as %s", addr, t.config.User)

	// Use a context-aware TCP dial so callers can cancel.
	dialer := net.Dialer{Timeout: t.config.ConnTimeout}
	tcpConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return lerrors.Wrap("dial", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(tcpConn, addr, sshCfg)
	if err != nil {
		tcpConn.Close()
		return lerrors.WrapSSH("handshake", t.config.Host, t.config.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)
	done := make(chan struct{})

	t.mu.Lock()
	t.client = client
	t.alive = true
	t.done = done
	t.mu.Unlock()

	go t.monitor(client, done)
	if t.config.KeepAlive > 0 {
		go t.keepalive(client, done)
	}
	return nil
}

// Dial forwards a connection through the tunnel.  Both "tcp" and "unix"
// addresses on the far side are supported.
func (t *SSHTunnel) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := t.liveClient()
	if err != nil {
		return nil, err
	}

	t.logger.Debug("tunnel: dialing %s %s", network, address)
	conn, err := client.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial %s: %w", address, err)
	}
	return conn, nil
}

// Listen opens a listener on the gateway.  Connections accepted there
// reach the caller through the tunnel.
func (t *SSHTunnel) Listen(network, address string) (net.Listener, error) {
	client, err := t.liveClient()
	if err != nil {
		return nil, err
	}

	t.logger.Debug("tunnel: listening on %s %s", network, address)
	ln, err := client.Listen(network, address)
	if err != nil {
		return nil, lerrors.WrapSSH("forward", t.config.Host, t.config.Port,
			fmt.Errorf("listen %s %s: %w", network, address, err))
	}
	return ln, nil
}

// Close shuts down the SSH connection.
func (t *SSHTunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.alive = false
	if t.client != nil {
		err := t.client.Close()
		t.client = nil
		return err
	}
	return nil
}

// IsAlive reports whether the tunnel is still connected.
func (t *SSHTunnel) IsAlive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.alive
}

func (t *SSHTunnel) liveClient() (*ssh.Client, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.alive || t.client == nil {
		return nil, lerrors.ErrTunnelClosed
	}
	return t.client, nil
}

// monitor blocks until the SSH connection closes and flips the alive flag.
func (t *SSHTunnel) monitor(client *ssh.Client, done chan struct{}) {
	err := client.Wait()
	close(done)

	t.mu.Lock()
	if t.client == client {
		t.alive = false
	}
	t.mu.Unlock()

	if err != nil {
		t.logger.Debug("SSH tunnel closed: %v", err)
	} else {
		t.logger.Debug("SSH tunnel closed")
	}
}

// keepalive probes the gateway until the connection ends.  A failed
// probe closes the client, which ends monitor.
func (t *SSHTunnel) keepalive(client *ssh.Client, done <-chan struct{}) {
	ticker := time.NewTicker(t.config.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
				t.logger.Warn("SSH keepalive to %s failed: %v", t.config.Addr(), err)
				client.Close()
				return
			}
			t.logger.Debug("SSH keepalive OK")
		}
	}
}
