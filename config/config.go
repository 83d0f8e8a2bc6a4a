// Package config defines the runtime configuration for lifod and provides
// helpers for parsing endpoint and tunnel specifications.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	lerrors "lifod/internal/errors"
	"lifod/util"
)

// Modes selectable on the command line.
const (
	ModeServe    = "serve"
	ModePush     = "push"
	ModePop      = "pop"
	ModeSelfTest = "selftest"
	ModeShell    = "shell"
)

// Modes lists every mode in help order.
var Modes = []string{ModeServe, ModePush, ModePop, ModeSelfTest, ModeShell}

// Config holds every tuneable for a single lifod invocation.
//
// Fields carry yaml keys for the config file; envconfig derives the
// LIFOD_* variable names from the field names.
type Config struct {
	Mode string `yaml:"-" ignored:"true"`

	// ── Stack ────────────────────────────────────────────────────────
	Capacity       int  `yaml:"capacity"`
	MemoryLimit    int  `yaml:"memory_limit" split_words:"true"` // 0 = unlimited
	RejectOversize bool `yaml:"reject_oversize" split_words:"true"`

	// ── Endpoints ────────────────────────────────────────────────────
	WriteAddr    string        `yaml:"write_addr" split_words:"true"`
	ReadAddr     string        `yaml:"read_addr" split_words:"true"`
	ReadNonblock bool          `yaml:"read_nonblock" split_words:"true"`
	MaxConns     int           `yaml:"max_conns" split_words:"true"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" split_words:"true"`
	WriteRate    float64       `yaml:"write_rate" split_words:"true"` // writes/s per connection, 0 = unlimited
	WriteBurst   int           `yaml:"write_burst" split_words:"true"`
	GracePeriod  time.Duration `yaml:"grace_period" split_words:"true"`
	MetricsAddr  string        `yaml:"metrics_addr" split_words:"true"`

	// ── Client ───────────────────────────────────────────────────────
	Timeout     time.Duration `yaml:"timeout"`
	DialRetries int           `yaml:"dial_retries" split_words:"true"`
	ChunkSize   int           `yaml:"chunk_size" split_words:"true"`
	Count       int           `yaml:"count"`
	NonBlock    bool          `yaml:"-" ignored:"true"`
	Scenario    int           `yaml:"-" ignored:"true"`
	Data        []string      `yaml:"-" ignored:"true"`

	// ── SSH tunnel ───────────────────────────────────────────────────
	Tunnel         string `yaml:"tunnel"` // raw [user@]host[:port]
	TunnelEnabled  bool   `yaml:"-" ignored:"true"`
	TunnelUser     string `yaml:"-" ignored:"true"`
	TunnelHost     string `yaml:"-" ignored:"true"`
	TunnelPort     int    `yaml:"-" ignored:"true"`
	SSHKey         string `yaml:"ssh_key" split_words:"true"`
	SSHPassword    bool   `yaml:"ssh_password" split_words:"true"`
	UseSSHAgent    bool   `yaml:"ssh_agent" split_words:"true"`
	StrictHostKey  bool   `yaml:"strict_host_key" split_words:"true"`
	KnownHosts     string `yaml:"known_hosts" split_words:"true"`
	KeepAliveSecs  int    `yaml:"keep_alive" split_words:"true"`

	// ── Output ───────────────────────────────────────────────────────
	Verbose   int    `yaml:"verbose"`
	LogFormat string `yaml:"log_format" split_words:"true"`
	DryRun    bool   `yaml:"-" ignored:"true"`
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Capacity:      DefaultCapacity,
		WriteAddr:     DefaultWriteAddr,
		ReadAddr:      DefaultReadAddr,
		MaxConns:      DefaultMaxConns,
		WriteBurst:    DefaultWriteBurst,
		GracePeriod:   DefaultGracePeriod,
		Timeout:       DefaultConnTimeout,
		DialRetries:   DefaultDialRetries,
		ChunkSize:     DefaultChunkSize,
		Count:         DefaultReadCount,
		Scenario:      1,
		KeepAliveSecs: DefaultKeepAliveInterval,
		Verbose:       1,
		LogFormat:     "console",
	}
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("tunnel host is required")
	}
	return user, host, port, nil
}

// ApplyTunnel parses Tunnel into the Tunnel* fields.  An empty Tunnel
// disables tunnelling.
func (c *Config) ApplyTunnel() error {
	if c.Tunnel == "" {
		c.TunnelEnabled = false
		return nil
	}
	user, host, port, err := ParseTunnelSpec(c.Tunnel)
	if err != nil {
		return &lerrors.ConfigError{
			Field:   "tunnel",
			Value:   c.Tunnel,
			Message: err.Error(),
			Hint:    "use [user@]host[:port], e.g. admin@bastion:2222",
		}
	}
	c.TunnelEnabled = true
	c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if !validMode(c.Mode) {
		return &lerrors.ConfigError{
			Field:   "mode",
			Value:   c.Mode,
			Message: "unknown mode",
			Hint:    "one of serve, push, pop, selftest, shell",
		}
	}

	writeEP, err := util.ParseEndpoint(c.WriteAddr)
	if err != nil {
		return &lerrors.ConfigError{Field: "write-addr", Value: c.WriteAddr, Message: err.Error(),
			Hint: "use host:port, tcp:host:port or unix:/path"}
	}
	readEP, err := util.ParseEndpoint(c.ReadAddr)
	if err != nil {
		return &lerrors.ConfigError{Field: "read-addr", Value: c.ReadAddr, Message: err.Error(),
			Hint: "use host:port, tcp:host:port or unix:/path"}
	}
	if writeEP == readEP {
		return &lerrors.ConfigError{Field: "read-addr", Value: c.ReadAddr,
			Message: "write and read endpoints must differ"}
	}

	if c.Capacity <= 0 {
		return &lerrors.ConfigError{Field: "capacity", Value: c.Capacity,
			Message: "must be positive", Hint: fmt.Sprintf("the default is %d", DefaultCapacity)}
	}
	if c.MemoryLimit < 0 {
		return &lerrors.ConfigError{Field: "memory-limit", Value: c.MemoryLimit,
			Message: "must not be negative", Hint: "use 0 for unlimited"}
	}
	if c.LogFormat != "" && c.LogFormat != "console" && c.LogFormat != "json" {
		return &lerrors.ConfigError{Field: "log-format", Value: c.LogFormat,
			Message: "unknown format", Hint: "console or json"}
	}

	switch c.Mode {
	case ModeServe:
		if c.TunnelEnabled && (writeEP.Network != "tcp" || readEP.Network != "tcp") {
			return &lerrors.ConfigError{Field: "tunnel", Value: c.Tunnel,
				Message: "only tcp endpoints can be published on an SSH gateway",
				Hint:    "drop --tunnel or use host:port endpoints"}
		}
		if c.MaxConns < 0 {
			return &lerrors.ConfigError{Field: "max-conns", Value: c.MaxConns, Message: "must not be negative"}
		}
		if c.WriteRate < 0 {
			return &lerrors.ConfigError{Field: "write-rate", Value: c.WriteRate, Message: "must not be negative"}
		}
		if c.WriteRate > 0 && c.WriteBurst < 1 {
			return &lerrors.ConfigError{Field: "write-burst", Value: c.WriteBurst,
				Message: "must be at least 1 when write-rate is set"}
		}
		if c.MetricsAddr != "" {
			if _, err := util.ParseEndpoint(c.MetricsAddr); err != nil {
				return &lerrors.ConfigError{Field: "metrics-addr", Value: c.MetricsAddr, Message: err.Error()}
			}
		}
	case ModePop:
		if c.Count <= 0 {
			return &lerrors.ConfigError{Field: "count", Value: c.Count,
				Message: "must be positive", Hint: fmt.Sprintf("the default is %d", DefaultReadCount)}
		}
	case ModePush:
		if c.ChunkSize < 0 {
			return &lerrors.ConfigError{Field: "chunk-size", Value: c.ChunkSize,
				Message: "must not be negative", Hint: "0 sends the whole input as one write"}
		}
	case ModeSelfTest:
		if c.Scenario != 1 && c.Scenario != 2 {
			return &lerrors.ConfigError{Field: "scenario", Value: c.Scenario,
				Message: "unknown scenario", Hint: "1 (write/read/empty) or 2 (hi+bye)"}
		}
	}

	if c.TunnelEnabled && c.TunnelHost == "" {
		return &lerrors.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}
	return nil
}

func validMode(m string) bool {
	for _, v := range Modes {
		if v == m {
			return true
		}
	}
	return false
}
