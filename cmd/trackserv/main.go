// Command trackserv serves the track analytics API over a loaded SQLite
// database. Configuration is layered: built-in defaults, then an optional
// YAML file, then TRACKETL_* environment variables.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "modernc.org/sqlite"

	"tracketl/internal/config"
	"tracketl/internal/logging"
	"tracketl/internal/metrics"
	"tracketl/internal/metrics/datadog"
	"tracketl/internal/server"
)

func main() {
	metricsFlg := flag.String("metrics-backend", "none", "metrics backend (datadog, none)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fatalf("config: %v", err)
	}

	logger := logging.NewLogger(cfg.Logging.Level)

	closeMetrics := initMetrics(*metricsFlg)
	defer closeMetrics()

	db, err := sql.Open("sqlite", cfg.Database.Path)
	if err != nil {
		logger.Error("open database", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srv, err := server.New(cfg, logger, db)
	if err != nil {
		logger.Error("init server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting server", "listen", cfg.Server.Listen, "database", cfg.Database.Path)
	if err := srv.Start(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func initMetrics(backend string) func() {
	switch backend {
	case "datadog":
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: "trackserv",
			Tags:    extraTags,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}

	case "", "none":
		return func() {}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backend)
		return func() {}
	}
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
