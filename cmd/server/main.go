// Command server runs the meeting scheduler API.
//
// Configuration comes from the environment and an optional .env file; see
// internal/config for the variables. The process stops on SIGINT or SIGTERM.
package main

import (
	"log/slog"
	"os"

	"github.com/sakif/meeting-scheduler/internal/config"
	"github.com/sakif/meeting-scheduler/internal/logging"
	"github.com/sakif/meeting-scheduler/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until the server is shut down.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
