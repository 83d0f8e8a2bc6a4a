package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"lifod/internal/client"
	lerrors "lifod/internal/errors"
	"lifod/internal/retry"
	"lifod/internal/wire"
	"lifod/lifo"
	"lifod/util"
)

// ShellMode is the interactive tester: a menu to write a line, read
// once, or exit.  Every action opens a fresh connection through a
// circuit breaker, so a daemon that has gone away is not redialled on
// every keystroke.
type ShellMode struct {
	Client  *client.Client
	Breaker *retry.CircuitBreaker
	Logger  *util.Logger

	// Prompt prints the menu and prompts; it is on when stdin is a
	// terminal.
	Prompt bool

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *ShellMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *ShellMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// NewShellBreaker returns a breaker that trips only on transport
// failures.  Stack results such as ErrNoSpace mean the daemon is alive.
// Transitions are logged to logger, which may be nil.
func NewShellBreaker(logger *util.Logger) *retry.CircuitBreaker {
	cfg := retry.DefaultCircuitBreakerConfig()
	cfg.MaxFailures = 3
	cfg.IsFailure = func(err error) bool {
		var ne *lerrors.NetworkError
		return errors.As(err, &ne)
	}
	cfg.OnStateChange = func(from, to retry.State) {
		switch to {
		case retry.StateOpen:
			logger.Warn("daemon unreachable, pausing requests for %s", cfg.ResetTimeout)
		case retry.StateClosed:
			logger.Info("daemon reachable again")
		default:
			logger.Verbose("circuit %s -> %s", from, to)
		}
	}
	return retry.NewCircuitBreaker(cfg)
}

// Run reads menu choices until "3", end of input, or ctx ends.
func (m *ShellMode) Run(ctx context.Context) error {
	defer m.Client.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if m.Breaker == nil {
		m.Breaker = NewShellBreaker(m.Logger)
	}

	out := m.stdout()
	lines := scanLines(ctx, m.stdin())
	next := func(prompt string) (string, bool) {
		if m.Prompt {
			fmt.Fprint(out, prompt)
		}
		select {
		case line, ok := <-lines:
			return line, ok
		case <-ctx.Done():
			return "", false
		}
	}

	if m.Prompt {
		fmt.Fprintln(out, "LIFO Character Device Tester")
		fmt.Fprintln(out, "============================")
		fmt.Fprintln(out, "Select an option:")
		fmt.Fprintln(out, "1. Write data to LIFO")
		fmt.Fprintln(out, "2. Read data from LIFO")
		fmt.Fprintln(out, "3. Exit")
	}

	for {
		choice, ok := next("\nEnter option (1-3): ")
		if !ok {
			return nil
		}
		switch strings.TrimSpace(choice) {
		case "1":
			data, ok := next("Enter data to write: ")
			if !ok {
				return nil
			}
			m.write(ctx, out, data)
		case "2":
			if err := m.read(ctx, out); errors.Is(err, lifo.ErrInterrupted) && ctx.Err() != nil {
				return nil
			}
		case "3":
			fmt.Fprintln(out, "Exiting...")
			return nil
		default:
			fmt.Fprintln(out, "Invalid option")
		}
	}
}

func (m *ShellMode) write(ctx context.Context, out io.Writer, data string) {
	var n int
	err := m.Breaker.Execute(func() error {
		var err error
		n, err = m.Client.Push(ctx, []byte(data))
		return err
	})
	if err != nil {
		fmt.Fprintf(out, "Failed to write to device: %v\n", err)
		return
	}
	fmt.Fprintf(out, "Wrote %d bytes\n", n)
}

func (m *ShellMode) read(ctx context.Context, out io.Writer) error {
	var data []byte
	err := m.Breaker.Execute(func() error {
		var err error
		data, err = m.Client.Pop(ctx, selfTestReadSize, false)
		return err
	})
	switch {
	case err != nil:
		fmt.Fprintf(out, "Failed to read from device: %v\n", err)
	case len(data) == 0:
		fmt.Fprintln(out, "LIFO is empty (EOF)")
	default:
		fmt.Fprintf(out, "Read %d bytes: %s\n", len(data), data)
	}
	return err
}

// scanLines feeds r's lines to a channel that closes at end of input.
// The scanner goroutine may outlive ctx while blocked on r.
func scanLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), wire.MaxFrameSize)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
