// Package cmd wires up the CLI flags and dispatches to the core modes.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"lifod/config"
	"lifod/internal/core"
	"lifod/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X lifod/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// stdout and stderr are swapped out by tests.
var (
	stdout io.Writer = os.Stdout //nolint:gochecknoglobals
	stderr io.Writer = os.Stderr //nolint:gochecknoglobals
)

// Execute parses args ("<mode> [flags] [data...]") and runs the mode.
//
// Settings resolve from, highest first: flags, LIFOD_* environment
// variables, the --config file, then built-in defaults.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		printUsage(nil, "")
		return nil
	}
	switch args[0] {
	case "-h", "--help", "help":
		printUsage(nil, "")
		return nil
	case "--version", "version":
		fmt.Fprintf(stdout, "lifod %s\n", version)
		return nil
	}

	mode, args := args[0], args[1:]
	if !isMode(mode) {
		return fmt.Errorf("unknown mode %q (use --help for usage)", mode)
	}

	cfg := config.Default()
	cfg.Mode = mode

	// ── file, then environment ───────────────────────────────────
	configPath := scanConfigPath(args)
	if configPath != "" {
		if err := config.LoadFile(configPath, cfg); err != nil {
			return err
		}
	}
	if err := config.LoadFromEnv(cfg); err != nil {
		return err
	}

	// ── flags ────────────────────────────────────────────────────
	// Flag defaults are the values loaded so far, so only flags given
	// on the command line override them.
	fs := flag.NewFlagSet("lifod "+mode, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configPath, "config", configPath, "YAML config file")
	registerFlags(fs, cfg)

	var verbose int
	var quiet, showVersion, showHelp bool
	fs.CountVarP(&verbose, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")
	fs.Usage = func() { printUsage(fs, mode) }

	if err := fs.Parse(args); err != nil {
		return err
	}
	if showHelp {
		printUsage(fs, mode)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "lifod %s\n", version)
		return nil
	}

	switch {
	case quiet:
		cfg.Verbose = int(util.LogQuiet)
	case verbose > 0:
		cfg.Verbose = min(cfg.Verbose+verbose, int(util.LogDebug))
	}

	if rest := fs.Args(); len(rest) > 0 {
		if mode != config.ModePush {
			return fmt.Errorf("%s takes no arguments, got %q", mode, strings.Join(rest, " "))
		}
		cfg.Data = rest
	}

	// ── validate ─────────────────────────────────────────────────
	if err := cfg.ApplyTunnel(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLoggerFormat(cfg.Verbose, cfg.LogFormat)
	defer logger.Sync() //nolint:errcheck

	if cfg.DryRun {
		logger.Info("configuration valid: %s, write %s, read %s", cfg.Mode, cfg.WriteAddr, cfg.ReadAddr)
		return nil
	}

	// ── build and run ────────────────────────────────────────────
	m, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return m.Run(ctx)
}

// registerFlags binds the flags that apply to cfg.Mode.
func registerFlags(fs *flag.FlagSet, cfg *config.Config) {
	// ── endpoints ────────────────────────────────────────────────
	fs.StringVarP(&cfg.WriteAddr, "write-addr", "W", cfg.WriteAddr, "lifo_write endpoint ([tcp:]host:port or unix:/path)")
	fs.StringVarP(&cfg.ReadAddr, "read-addr", "R", cfg.ReadAddr, "lifo_read endpoint ([tcp:]host:port or unix:/path)")

	switch cfg.Mode {
	case config.ModeServe:
		fs.IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "Maximum bytes held")
		fs.IntVar(&cfg.MemoryLimit, "memory-limit", cfg.MemoryLimit, "Storage units available (0 = unlimited)")
		fs.BoolVar(&cfg.RejectOversize, "reject-oversize", cfg.RejectOversize, "Reject writes larger than capacity instead of truncating")
		fs.BoolVar(&cfg.ReadNonblock, "read-nonblock", cfg.ReadNonblock, "Open lifo_read connections non-blocking")
		fs.IntVar(&cfg.MaxConns, "max-conns", cfg.MaxConns, "Concurrent connections per endpoint (0 = unlimited)")
		fs.DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "Close idle connections after this long")
		fs.Float64Var(&cfg.WriteRate, "write-rate", cfg.WriteRate, "Writes per second per connection (0 = unlimited)")
		fs.IntVar(&cfg.WriteBurst, "write-burst", cfg.WriteBurst, "Write burst size when --write-rate is set")
		fs.DurationVar(&cfg.GracePeriod, "grace-period", cfg.GracePeriod, "Shutdown wait for open connections")
		fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve /stats and /metrics on this endpoint")
	case config.ModePush:
		fs.IntVar(&cfg.ChunkSize, "chunk-size", cfg.ChunkSize, "Split input into writes of this size (0 = one atomic write)")
	case config.ModePop:
		fs.IntVarP(&cfg.Count, "count", "n", cfg.Count, "Bytes to read")
		fs.BoolVar(&cfg.NonBlock, "nonblock", cfg.NonBlock, "Return at once when the stack is empty")
	case config.ModeSelfTest:
		fs.IntVar(&cfg.Scenario, "scenario", cfg.Scenario, "Scenario: 1 (write/read/empty) or 2 (hi+bye)")
	}

	if cfg.Mode != config.ModeServe {
		fs.DurationVarP(&cfg.Timeout, "timeout", "w", cfg.Timeout, "Connect timeout")
		fs.IntVar(&cfg.DialRetries, "dial-retries", cfg.DialRetries, "Redial attempts for a refused endpoint")
	}

	// ── SSH tunnel ───────────────────────────────────────────────
	tunnelHelp := "Reach the endpoints via SSH [user@]host[:port]"
	if cfg.Mode == config.ModeServe {
		tunnelHelp = "Also publish the endpoints on SSH gateway [user@]host[:port]"
	}
	fs.StringVarP(&cfg.Tunnel, "tunnel", "T", cfg.Tunnel, tunnelHelp)
	fs.StringVar(&cfg.SSHKey, "ssh-key", cfg.SSHKey, "SSH private key file")
	fs.BoolVar(&cfg.SSHPassword, "ssh-password", cfg.SSHPassword, "Prompt for SSH password")
	fs.BoolVar(&cfg.UseSSHAgent, "ssh-agent", cfg.UseSSHAgent, "Use SSH agent")
	fs.BoolVar(&cfg.StrictHostKey, "strict-hostkey", cfg.StrictHostKey, "Verify SSH host keys")
	fs.StringVar(&cfg.KnownHosts, "known-hosts", cfg.KnownHosts, "Custom known_hosts path")
	fs.IntVar(&cfg.KeepAliveSecs, "keep-alive", cfg.KeepAliveSecs, "SSH keepalive interval in seconds (0 = off)")

	// ── output ───────────────────────────────────────────────────
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log encoding: console or json")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "Validate the configuration and exit")
}

// ── helpers ──────────────────────────────────────────────────────────

func isMode(s string) bool {
	for _, m := range config.Modes {
		if m == s {
			return true
		}
	}
	return false
}

// scanConfigPath finds --config ahead of the real parse, so the file
// can be loaded before flags override it.
func scanConfigPath(args []string) string {
	for i, a := range args {
		if a == "--" {
			break
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// printUsage prints the general help, plus the options of mode when fs
// is set.
func printUsage(fs *flag.FlagSet, mode string) {
	fmt.Fprintf(stderr, `lifod – bounded LIFO byte channel v%s

A stack of bytes served on two endpoints: writes push onto lifo_write,
reads pop from lifo_read, most recent byte first.

Usage:
  lifod serve [options]                       Run the daemon
  lifod push [options] [data...]              Write data (or stdin)
  lifod pop [options]                         Read up to --count bytes
  lifod selftest --scenario N [options]       Run a canned scenario
  lifod shell [options]                       Interactive tester
`, version)
	if fs != nil {
		fmt.Fprintf(stderr, "\nOptions for %s:\n", mode)
		fs.PrintDefaults()
	}
	fmt.Fprintf(stderr, `
Examples:
  lifod serve --capacity 4096 --metrics-addr 127.0.0.1:9301
  lifod push "Hello LIFO driver!"
  echo -n hello | lifod push
  lifod pop --count 5 --nonblock
  lifod selftest --scenario 2
  lifod pop -T admin@bastion                  Through an SSH gateway

Environment:
`)
	config.Usage(stderr) //nolint:errcheck
}
