package core

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
	"golang.org/x/time/rate"

	"lifod/config"
	"lifod/internal/client"
	"lifod/internal/metrics"
	"lifod/internal/retry"
	"lifod/internal/transport"
	"lifod/lifo"
	"lifod/tunnel"
	"lifod/util"
)

// Build constructs the appropriate Mode from a validated configuration.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	switch cfg.Mode {
	case config.ModeServe:
		return buildServe(cfg, logger)
	case config.ModePush:
		c, err := buildClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		m := &PushMode{Client: c, Logger: logger}
		if len(cfg.Data) > 0 {
			m.Data = []byte(strings.Join(cfg.Data, " "))
		}
		return m, nil
	case config.ModePop:
		c, err := buildClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &PopMode{Client: c, Count: cfg.Count, NonBlocking: cfg.NonBlock, Logger: logger}, nil
	case config.ModeSelfTest:
		c, err := buildClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &SelfTestMode{Client: c, Scenario: cfg.Scenario, Logger: logger}, nil
	case config.ModeShell:
		c, err := buildClient(cfg, logger)
		if err != nil {
			return nil, err
		}
		return &ShellMode{
			Client:  c,
			Breaker: NewShellBreaker(logger),
			Prompt:  term.IsTerminal(int(os.Stdin.Fd())),
			Logger:  logger,
		}, nil
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger) (Mode, error) {
	writeEP, readEP, err := endpoints(cfg)
	if err != nil {
		return nil, err
	}

	var alloc lifo.Allocator
	if cfg.MemoryLimit > 0 {
		alloc = lifo.NewBudget(cfg.MemoryLimit)
	}

	m := &ServeMode{
		Stack: lifo.New(lifo.Config{
			Capacity:       cfg.Capacity,
			Allocator:      alloc,
			RejectOversize: cfg.RejectOversize,
		}),
		WriteAddr:    writeEP,
		ReadAddr:     readEP,
		ReadNonBlock: cfg.ReadNonblock,
		MaxConns:     cfg.MaxConns,
		IdleTimeout:  cfg.IdleTimeout,
		WriteRate:    rate.Limit(cfg.WriteRate),
		WriteBurst:   cfg.WriteBurst,
		GracePeriod:  cfg.GracePeriod,
		Metrics:      metrics.New(),
		Logger:       logger,
	}
	if m.GracePeriod <= 0 {
		m.GracePeriod = config.DefaultGracePeriod
	}
	if cfg.MetricsAddr != "" {
		ep, err := util.ParseEndpoint(cfg.MetricsAddr)
		if err != nil {
			return nil, fmt.Errorf("metrics-addr: %w", err)
		}
		m.MetricsAddr = &ep
	}
	if cfg.TunnelEnabled {
		m.Tunnel = tunnel.NewSSHTunnel(sshConfig(cfg), logger)
	}
	return m, nil
}

func buildClient(cfg *config.Config, logger *util.Logger) (*client.Client, error) {
	writeEP, readEP, err := endpoints(cfg)
	if err != nil {
		return nil, err
	}

	dialBackoff := retry.DefaultBackoff()
	dialBackoff.MaxAttempts = cfg.DialRetries + 1
	dialBackoff.MaxDelay = config.DefaultMaxReconnectBackoff
	dialBackoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Verbose("connect attempt %d failed: %v (retrying in %s)", attempt, err, wait.Round(time.Millisecond))
	}

	pushBackoff := retry.DefaultBackoff()
	pushBackoff.MaxDelay = config.DefaultMaxReconnectBackoff
	pushBackoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Debug("write attempt %d: %v (retrying in %s)", attempt, err, wait.Round(time.Millisecond))
	}

	return &client.Client{
		Dialer:      buildDialer(cfg, logger),
		WriteAddr:   writeEP,
		ReadAddr:    readEP,
		ChunkSize:   cfg.ChunkSize,
		DialBackoff: dialBackoff,
		PushBackoff: pushBackoff,
		Logger:      logger,
	}, nil
}

// ── shared helpers ───────────────────────────────────────────────────

// buildDialer creates the right transport.Dialer for the given config.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	if cfg.TunnelEnabled {
		return transport.NewSSHDialer(sshConfig(cfg), logger)
	}
	return &transport.NetDialer{Timeout: cfg.Timeout}
}

func sshConfig(cfg *config.Config) *tunnel.SSHConfig {
	var keepAlive time.Duration
	if cfg.KeepAliveSecs > 0 {
		keepAlive = time.Duration(cfg.KeepAliveSecs) * time.Second
	}
	return &tunnel.SSHConfig{
		User:          cfg.TunnelUser,
		Host:          cfg.TunnelHost,
		Port:          cfg.TunnelPort,
		KeyPath:       cfg.SSHKey,
		PromptPass:    cfg.SSHPassword,
		UseAgent:      cfg.UseSSHAgent,
		StrictHostKey: cfg.StrictHostKey,
		KnownHosts:    cfg.KnownHosts,
		ConnTimeout:   cfg.Timeout,
		KeepAlive:     keepAlive,
	}
}

func endpoints(cfg *config.Config) (write, read util.Endpoint, err error) {
	write, err = util.ParseEndpoint(cfg.WriteAddr)
	if err != nil {
		return write, read, fmt.Errorf("write-addr: %w", err)
	}
	read, err = util.ParseEndpoint(cfg.ReadAddr)
	if err != nil {
		return write, read, fmt.Errorf("read-addr: %w", err)
	}
	return write, read, nil
}
