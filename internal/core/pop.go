package core

import (
	"context"
	"fmt"
	"io"
	"os"

	"lifod/internal/client"
	"lifod/util"
)

// PopMode reads up to Count bytes from lifo_read and copies them to
// Stdout, most recently written first.
type PopMode struct {
	Client      *client.Client
	Count       int
	NonBlocking bool
	Logger      *util.Logger

	// Stdout defaults to os.Stdout when nil.
	Stdout io.Writer
}

func (m *PopMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

// Run performs one read.  An empty stack is not an error: a
// non-blocking read returns nothing and Run logs it.  Cancelling ctx
// while the read blocks reports the read as interrupted.
func (m *PopMode) Run(ctx context.Context) error {
	defer m.Client.Close()

	m.Logger.Verbose("reading up to %d bytes from %s", m.Count, m.Client.ReadAddr)
	data, err := m.Client.Pop(ctx, m.Count, m.NonBlocking)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if len(data) == 0 {
		m.Logger.Info("LIFO is empty (EOF)")
		return nil
	}
	m.Logger.Verbose("read %d bytes", len(data))
	_, err = m.stdout().Write(data)
	return err
}
