// Command csvload loads a tracks CSV into a database table. Column types are
// inferred from the data, the table is dropped and recreated, and rows are
// inserted in batches. With -clean the dataset is run through the cleaning
// pipeline first.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"tracketl/internal/cleaner"
	"tracketl/internal/dataset"
	"tracketl/internal/metrics"
	"tracketl/internal/metrics/datadog"
	"tracketl/internal/migrate"
	"tracketl/internal/schema"
	"tracketl/internal/storage"

	// register all backends with the storage factory.
	_ "tracketl/internal/storage/all"
)

func main() {
	var (
		csvPath    string
		kind       string
		dsn        string
		table      string
		batchSize  int
		clean      bool
		metricsFlg string
	)

	flag.StringVar(&csvPath, "csv", "", "CSV file to load (required)")
	flag.StringVar(&kind, "kind", "sqlite", "destination backend kind ("+strings.Join(storage.Kinds(), ", ")+")")
	flag.StringVar(&dsn, "dsn", "spotify_tracks.db", "destination DSN")
	flag.StringVar(&table, "table", "tracks", "destination table name")
	flag.IntVar(&batchSize, "batch-size", 0, "rows per INSERT (0 = default 1000)")
	flag.BoolVar(&clean, "clean", false, "run the cleaning pipeline before loading")
	flag.StringVar(&metricsFlg, "metrics-backend", "none", "metrics backend (datadog, none)")
	verbose := flag.Bool("v", false, "enable verbose logs")
	flag.Parse()

	if csvPath == "" {
		fatalf("-csv is required")
	}

	closeMetrics := initMetrics(metricsFlg, "track_csvload", *verbose)
	defer closeMetrics()

	ctx := context.Background()

	src := &migrate.CSVSource{Path: csvPath}
	var m migrate.Source = src
	if clean {
		m = &cleanedSource{inner: src, verbose: *verbose}
	}

	sum, err := migrate.Run(ctx, migrate.Migration{
		Source:    m,
		Dest:      storage.Config{Kind: kind, DSN: dsn},
		Table:     table,
		BatchSize: batchSize,
	})
	if err != nil {
		log.Fatalf("csvload: %v", err)
	}

	if src.Stats.Skipped > 0 {
		fmt.Printf("skipped %d malformed CSV record(s)\n", src.Stats.Skipped)
	}
	printSummary(sum)
}

// cleanedSource runs the cleaning pipeline over the rows its inner source
// produces before handing them to the loader.
type cleanedSource struct {
	inner   migrate.Source
	verbose bool
}

func (s *cleanedSource) Read(ctx context.Context) (*dataset.Dataset, error) {
	ds, err := s.inner.Read(ctx)
	if err != nil {
		return nil, err
	}
	cleaned, rep := cleaner.Clean(ds)
	if s.verbose {
		log.Printf("clean: dropped_index=%v filled_text=%v median_filled=%v dupes_removed=%d key=%s",
			rep.DroppedIndexColumn, rep.FilledText, rep.MedianFilled, rep.DuplicatesRemoved, rep.DedupeKey)
	}
	return cleaned, nil
}

func (s *cleanedSource) Describe() string { return s.inner.Describe() + "+clean" }

func printSummary(sum migrate.Summary) {
	fmt.Printf("source:    %s\n", sum.Source)
	fmt.Printf("table:     %s\n", sum.Table)
	fmt.Printf("schema:    %s\n", formatSchema(sum.Schema))
	fmt.Printf("attempted: %d\n", sum.Load.Attempted)
	fmt.Printf("succeeded: %d\n", sum.Load.Succeeded)
	fmt.Printf("failed:    %d\n", sum.Load.Failed)
	for _, re := range sum.Load.Errors {
		fmt.Printf("  skipped row %d: column %s: %v\n", re.Row, re.Column, re.Err)
	}
}

func formatSchema(s schema.Schema) string {
	cols := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		cols = append(cols, c.Name+":"+c.Type.String())
	}
	return strings.Join(cols, ", ")
}

func initMetrics(backend, job string, verbose bool) func() {
	switch backend {
	case "datadog":
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: job,
			Tags:    extraTags,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		if verbose {
			log.Printf("metrics: backend=datadog job_name=%v tags=%v", job, extraTags)
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
