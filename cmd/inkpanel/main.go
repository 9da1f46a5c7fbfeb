// Command inkpanel drives a tri-color e-paper panel from a small web
// control surface.
//
//	inkpanel serve                  run the control plane
//	inkpanel run weather            run one task in the foreground
//	inkpanel status                 print the active task
//	inkpanel config                 print the effective configuration
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Set at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}
