// Package main provides the entry point for the HairScope Lab server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ericfisherdev/hairscope-lab/internal/api"
	"github.com/ericfisherdev/hairscope-lab/internal/config"
	"github.com/ericfisherdev/hairscope-lab/internal/logging"
	"github.com/ericfisherdev/hairscope-lab/internal/server"
)

// Set by -ldflags at build time.
var (
	version    = "dev"
	buildTime  = ""
	commitHash = ""
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	source, err := config.AutoLoadEnv(".")
	if err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}

	cfg := config.NewConfigFrom(source)
	logger := logging.New(cfg.GetLogLevel(), cfg.GetLogFormat())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return server.Run(ctx, cfg, logger, api.BuildInfo{
		Version:    version,
		BuildTime:  buildTime,
		CommitHash: commitHash,
	})
}
