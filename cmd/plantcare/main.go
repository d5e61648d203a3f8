// plantcare runs the plant-care scheduling engine: the HTTP adapter, the
// overdue escalation loop and a few operator commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by build flags)
var (
	BuildVersion = "dev"
	BuildCommit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := rootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s)", BuildVersion, BuildCommit)
	if err := cmd.ExecuteContext(ctx); err != nil {
		// Error already printed by Cobra
		return 1
	}
	return 0
}
