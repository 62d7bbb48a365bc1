package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ecobiomax/normaIA/internal/app"
	"github.com/ecobiomax/normaIA/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(buildDeps).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildDeps wires the same pipeline as the API, logging to stderr so
// command output on stdout stays clean.
func buildDeps() (app.Deps, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return app.Deps{}, err
	}
	return app.New(cfg, logger.NewWithWriter(os.Stderr, "normactl", cfg.LogLevel, "text"))
}
