package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"devstash/internal/core"
	"devstash/internal/transports/cli"
	"devstash/pkg/logger"
)

// Задаются через -ldflags "-X main.buildMode=release ...".
var (
	buildMode = "debug"
	version   = "dev"
	commit    = ""
	date      = ""
)

func main() {
	lg := logger.New()

	mode, err := core.ParseBuildMode(buildMode)
	if err != nil {
		lg.Error("invalid build mode", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.New(cli.Options{Mode: mode, Version: buildVersion(), Logger: lg})
	if err := root.ExecuteContext(ctx); err != nil {
		lg.Error("command failed", "err", err)
		stop()
		os.Exit(1)
	}
}

func buildVersion() string {
	v := version
	if commit != "" {
		v += " (" + commit + ")"
	}
	if date != "" {
		v += " " + date
	}
	return v
}
