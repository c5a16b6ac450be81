package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kilnbuild/kiln/cmd/kiln/commands"
	"github.com/kilnbuild/kiln/pkg/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	setupLogging()

	// Cancel running scripts and forks on interrupt
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	if err == nil {
		return
	}

	var exitErr *commands.ExitError
	if errors.As(err, &exitErr) {
		stop()
		os.Exit(exitErr.Code)
	}

	log.Error().Err(err).Msg("Command execution failed")
	stop()
	os.Exit(1)
}

// setupLogging configures zerolog for the CLI. --log-level overrides
// LOG_LEVEL once flags are parsed.
func setupLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
}
