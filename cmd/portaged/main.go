// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

// Command portaged serves the read-only inspection API over a portage
// datastore. Configuration comes from the environment:
//
//	PORTAGE_DB_PATH   path to the sqlite datastore (default portage.db)
//	PORTAGE_PORT      HTTP port (default 8080)
//	PORTAGE_LOG_FILE  rotated log file path (default portage.log)
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/platform-engineering-labs/portage/internal/api"
	"github.com/platform-engineering-labs/portage/internal/datastore"
	"github.com/platform-engineering-labs/portage/internal/logging"
)

func main() {
	logging.SetupInitialLogging()

	logging.Setup(logging.Config{
		FilePath:     envOr("PORTAGE_LOG_FILE", "portage.log"),
		FileLevel:    slog.LevelDebug,
		ConsoleLevel: slog.LevelInfo,
	})

	port, err := strconv.Atoi(envOr("PORTAGE_PORT", "8080"))
	if err != nil {
		slog.Error("Invalid PORTAGE_PORT", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := datastore.NewSQLite(ctx, datastore.SqliteConfig{
		FilePath: envOr("PORTAGE_DB_PATH", "portage.db"),
	})
	if err != nil {
		slog.Error("Failed to open datastore", "error", err)
		os.Exit(1)
	}
	defer ds.Close()

	slog.Info("Starting portaged", "port", port)
	api.NewServer(ctx, ds, api.ServerConfig{Port: port}, promhttp.Handler()).Start()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
