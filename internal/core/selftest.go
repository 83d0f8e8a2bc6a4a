package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"lifod/internal/client"
	"lifod/util"
)

// ErrSelfTestFailed is returned when a scenario observes the wrong data.
var ErrSelfTestFailed = errors.New("self-test failed")

// selfTestReadSize is the read size of the canned scenarios and the
// shell.
const selfTestReadSize = 1023

// SelfTestMode runs one of the canned scenarios against a live daemon
// and prints a transcript to Stdout.
//
//  1. write "Hello LIFO driver!", read it back reversed, then check that
//     a non-blocking read of the now empty stack returns nothing;
//  2. write "hi" then "bye" and read back "eybih".
type SelfTestMode struct {
	Client   *client.Client
	Scenario int
	Logger   *util.Logger

	// Stdout defaults to os.Stdout when nil.
	Stdout io.Writer
}

func (m *SelfTestMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run executes the scenario.  A transport or stack error aborts it; a
// wrong result prints FAILURE and returns ErrSelfTestFailed.
func (m *SelfTestMode) Run(ctx context.Context) error {
	defer m.Client.Close()

	switch m.Scenario {
	case 1:
		return m.writeThenRead(ctx)
	case 2:
		return m.lifoOrder(ctx)
	default:
		return fmt.Errorf("unknown scenario %d", m.Scenario)
	}
}

func (m *SelfTestMode) writeThenRead(ctx context.Context) error {
	out := m.stdout()
	fmt.Fprintln(out, "Test mode 1: Write then read")

	const data = "Hello LIFO driver!"
	fmt.Fprintf(out, "Writing: %s\n", data)
	n, err := m.Client.Push(ctx, []byte(data))
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	fmt.Fprintf(out, "Wrote %d bytes\n", n)

	got, err := m.Client.Pop(ctx, selfTestReadSize, false)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	fmt.Fprintf(out, "Read %d bytes: %s\n", len(got), got)

	failed := false
	if want := reversed(data); string(got) != want {
		fmt.Fprintf(out, "FAILURE! Expected %q but got %q\n", want, got)
		failed = true
	}

	fmt.Fprintln(out, "Reading from empty buffer...")
	rest, err := m.Client.Pop(ctx, selfTestReadSize, true)
	if err != nil {
		return fmt.Errorf("read empty: %w", err)
	}
	if len(rest) == 0 {
		fmt.Fprintln(out, "Correctly received EOF (0 bytes) from empty buffer")
	} else {
		fmt.Fprintf(out, "FAILURE! Read %d bytes from supposedly empty buffer\n", len(rest))
		failed = true
	}

	if failed {
		return ErrSelfTestFailed
	}
	fmt.Fprintln(out, "SUCCESS! Data came back reversed and the buffer drained.")
	return nil
}

func (m *SelfTestMode) lifoOrder(ctx context.Context) error {
	out := m.stdout()
	fmt.Fprintln(out, "Test mode 2: LIFO behavior demonstration")

	w, err := m.Client.OpenWriter(ctx)
	if err != nil {
		return err
	}
	for _, s := range []string{"hi", "bye"} {
		fmt.Fprintf(out, "Writing: %s\n", s)
		n, err := w.Write([]byte(s))
		if err != nil {
			w.Close()
			return fmt.Errorf("write: %w", err)
		}
		fmt.Fprintf(out, "Wrote %d bytes\n", n)
	}
	w.Close()

	fmt.Fprintln(out, "Reading from device (should be in LIFO order):")
	got, err := m.Client.Pop(ctx, selfTestReadSize, false)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	fmt.Fprintf(out, "Read %d bytes: %s\n", len(got), got)

	if string(got) != "eybih" {
		fmt.Fprintf(out, "FAILURE! Expected \"eybih\" but got %q\n", got)
		return ErrSelfTestFailed
	}
	fmt.Fprintln(out, "SUCCESS! Characters were correctly stored in LIFO order.")
	return nil
}

func reversed(s string) string {
	b := []byte(s)
	slices.Reverse(b)
	return string(b)
}
