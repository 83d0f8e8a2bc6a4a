// lifod serves a bounded LIFO byte channel on a write endpoint and a
// read endpoint, with clients to push, pop and test it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lifod/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "lifod: %v\n", err)
		os.Exit(1)
	}
}
