package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mauvedb/mauved/internal/cli"
	"github.com/mauvedb/mauved/internal/server"
)

// Entry point for the mauved daemon. A forced shutdown (drain deadline
// exceeded) exits non-zero so supervisors can tell the difference.
func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mauved: "+err.Error())
		if errors.Is(err, server.ErrForcedShutdown) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
