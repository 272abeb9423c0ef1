// Command migrate copies a tracks table between stores: CSV file or source
// database in, any registered backend out. The destination table is dropped
// and recreated, so reruns over the same input are idempotent.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"tracketl/internal/dataset"
	"tracketl/internal/metrics"
	"tracketl/internal/metrics/datadog"
	"tracketl/internal/migrate"
	"tracketl/internal/storage"

	// register all backends with the storage factory.
	_ "tracketl/internal/storage/all"
)

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, appDeps{
		runMigration: migrate.Run,
		initMetrics:  initMetrics,
	}))
}

// appDeps are the side-effecting collaborators of runMain, injectable so the
// CLI orchestration is testable without databases or network.
type appDeps struct {
	runMigration func(ctx context.Context, m migrate.Migration) (migrate.Summary, error)
	initMetrics  func(ctx context.Context, jobName, backendName string) (func(), error)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		csvPath    = fs.String("csv", "", "source CSV file (mutually exclusive with -src-kind)")
		srcKind    = fs.String("src-kind", "", "source backend kind ("+kindList()+")")
		srcDSN     = fs.String("src-dsn", "", "source DSN")
		srcTable   = fs.String("src-table", "tracks", "source table name")
		destKind   = fs.String("dest-kind", "sqlite", "destination backend kind ("+kindList()+")")
		destDSN    = fs.String("dest-dsn", "spotify_tracks.db", "destination DSN")
		destTable  = fs.String("dest-table", "tracks", "destination table name")
		batchSize  = fs.Int("batch-size", 0, "rows per INSERT (0 = default 1000)")
		metricsFlg = fs.String("metrics-backend", "", "metrics backend (datadog, none; default env METRICS_BACKEND)")
		verbose    = fs.Bool("v", false, "enable verbose logs")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	src, err := buildSource(*csvPath, *srcKind, *srcDSN, *srcTable)
	if err != nil {
		fmt.Fprintf(stderr, "usage: migrate -csv FILE | -src-kind KIND: %v\n", err)
		return 2
	}

	// Decide metrics backend: flag, then env, then none.
	backendName := *metricsFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	cleanup, err := deps.initMetrics(ctx, "track_migrate", backendName)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return 1
	}
	defer cleanup()

	start := time.Now()
	sum, err := deps.runMigration(ctx, migrate.Migration{
		Source:    src,
		Dest:      storage.Config{Kind: *destKind, DSN: *destDSN},
		Table:     *destTable,
		BatchSize: *batchSize,
	})
	if err != nil {
		fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}

	printSummary(stdout, sum)
	if *verbose {
		fmt.Fprintf(stdout, "completed in %s\n", time.Since(start).Truncate(time.Millisecond))
	}
	return 0
}

func buildSource(csvPath, srcKind, srcDSN, srcTable string) (migrate.Source, error) {
	switch {
	case csvPath != "" && srcKind != "":
		return nil, fmt.Errorf("-csv and -src-kind are mutually exclusive")
	case csvPath != "":
		return &migrate.CSVSource{Path: csvPath, Options: dataset.CSVOptions{}}, nil
	case srcKind != "":
		return &migrate.TableSource{
			Config: storage.Config{Kind: srcKind, DSN: srcDSN},
			Table:  srcTable,
		}, nil
	default:
		return nil, fmt.Errorf("either -csv or -src-kind is required")
	}
}

func printSummary(w io.Writer, sum migrate.Summary) {
	fmt.Fprintf(w, "source:    %s\n", sum.Source)
	fmt.Fprintf(w, "table:     %s\n", sum.Table)

	cols := make([]string, 0, len(sum.Schema.Columns))
	for _, c := range sum.Schema.Columns {
		cols = append(cols, c.Name+":"+c.Type.String())
	}
	fmt.Fprintf(w, "schema:    %s\n", strings.Join(cols, ", "))
	fmt.Fprintf(w, "attempted: %d\n", sum.Load.Attempted)
	fmt.Fprintf(w, "succeeded: %d\n", sum.Load.Succeeded)
	fmt.Fprintf(w, "failed:    %d\n", sum.Load.Failed)
	for _, re := range sum.Load.Errors {
		fmt.Fprintf(w, "  skipped row %d: column %s: %v\n", re.Row, re.Column, re.Err)
	}
}

// ddBackend is what initMetrics needs from the Datadog backend.
type ddBackend interface {
	metrics.Backend
	Close() error
}

// Seams for tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (ddBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// initMetrics installs the selected metrics backend. The returned cleanup is
// always non-nil and safe to call; for the Datadog backend it stops the flush
// loop and performs the final flush.
func initMetrics(ctx context.Context, jobName, backendName string) (func(), error) {
	switch backendName {
	case "", "none":
		// metrics disabled; nop backend remains
		return func() {}, nil

	case "datadog":
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    jobName,
			Tags:       extraTags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return func() {}, fmt.Errorf("datadog backend: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q (none|datadog)", backendName)
	}
}

func kindList() string {
	return strings.Join(storage.Kinds(), ", ")
}
