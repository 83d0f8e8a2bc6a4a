package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"lifod/internal/client"
	"lifod/internal/wire"
	"lifod/util"
)

// PushMode writes Data to lifo_write, or everything on Stdin when Data
// is nil.
type PushMode struct {
	Client *client.Client
	Data   []byte
	Logger *util.Logger

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *PushMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *PushMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run pushes the data and reports the byte count on Stdout.
func (m *PushMode) Run(ctx context.Context) error {
	defer m.Client.Close()

	data := m.Data
	if data == nil {
		var err error
		data, err = util.ReadLimited(m.stdin(), wire.MaxFrameSize)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	m.Logger.Verbose("writing %d bytes to %s", len(data), m.Client.WriteAddr)
	n, err := m.Client.Push(ctx, data)
	if err != nil {
		if n > 0 {
			fmt.Fprintf(m.stdout(), "Wrote %d of %d bytes\n", n, len(data))
		}
		return fmt.Errorf("write: %w", err)
	}
	fmt.Fprintf(m.stdout(), "Wrote %d bytes\n", n)
	return nil
}
