// Package migrate orchestrates a full table migration: read the source,
// infer a schema, provision the destination table, and load the rows.
package migrate

import (
	"context"
	"fmt"
	"time"

	"tracketl/internal/dataset"
	"tracketl/internal/loader"
	"tracketl/internal/metrics"
	"tracketl/internal/schema"
	"tracketl/internal/storage"
)

// Source yields the dataset to migrate. Implementations own whatever
// connection or file handle they need and release it when Read returns.
type Source interface {
	// Read produces the full dataset.
	Read(ctx context.Context) (*dataset.Dataset, error)
	// Describe names the source for logs and summaries.
	Describe() string
}

// CSVSource reads a CSV file.
type CSVSource struct {
	Path    string
	Options dataset.CSVOptions

	// Stats is populated by Read with line and skip counts.
	Stats dataset.CSVStats
}

func (s *CSVSource) Read(ctx context.Context) (*dataset.Dataset, error) {
	ds, stats, err := dataset.ReadCSV(s.Path, s.Options)
	s.Stats = stats
	return ds, err
}

func (s *CSVSource) Describe() string { return "csv:" + s.Path }

// TableSource reads an entire table from a storage backend. The connection
// is opened for the read and closed before Read returns.
type TableSource struct {
	Config storage.Config
	Table  string
}

func (s *TableSource) Read(ctx context.Context) (*dataset.Dataset, error) {
	repo, err := storage.New(ctx, s.Config)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", s.Describe(), err)
	}
	defer repo.Close()
	return repo.ReadTable(ctx, s.Table)
}

func (s *TableSource) Describe() string {
	return s.Config.Kind + ":" + s.Table
}

// Migration describes one source-to-destination table copy.
type Migration struct {
	Source Source
	Dest   storage.Config
	// Table is the destination table name. It is dropped and recreated.
	Table string
	// BatchSize is passed to the loader. Zero means loader.DefaultBatchSize.
	BatchSize int
}

// Summary reports what a migration did.
type Summary struct {
	Source string
	Table  string
	Schema schema.Schema
	Load   loader.Result
}

// Run executes the migration.
//
// Schema inference runs over the source values, so migrating the same input
// twice produces an identical destination table. Rows that fail coercion are
// skipped and reported in the summary, not fatal; source, provision, and
// database errors are.
func Run(ctx context.Context, m Migration) (Summary, error) {
	sum := Summary{Table: m.Table}
	if m.Source == nil {
		return sum, fmt.Errorf("migrate: nil source")
	}
	sum.Source = m.Source.Describe()

	ds, err := timedStep(ctx, "read", func(ctx context.Context) (*dataset.Dataset, error) {
		return m.Source.Read(ctx)
	})
	if err != nil {
		return sum, fmt.Errorf("migrate: read %s: %w", sum.Source, err)
	}

	sch, err := timedStep(ctx, "infer", func(context.Context) (schema.Schema, error) {
		return schema.Infer(ds)
	})
	if err != nil {
		return sum, fmt.Errorf("migrate: infer schema for %s: %w", sum.Source, err)
	}
	sum.Schema = sch

	repo, err := storage.New(ctx, m.Dest)
	if err != nil {
		return sum, fmt.Errorf("migrate: open destination: %w", err)
	}
	defer repo.Close()

	if _, err := timedStep(ctx, "provision", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, repo.Provision(ctx, m.Table, sch)
	}); err != nil {
		return sum, err
	}

	l := &loader.Loader{Repo: repo, BatchSize: m.BatchSize}
	res, err := timedStep(ctx, "load", func(ctx context.Context) (loader.Result, error) {
		return l.Load(ctx, m.Table, sch, ds)
	})
	sum.Load = res

	metrics.IncCounter("tracketl_rows_total", float64(res.Attempted), metrics.Labels{"kind": "attempted"})
	metrics.IncCounter("tracketl_rows_total", float64(res.Succeeded), metrics.Labels{"kind": "succeeded"})
	metrics.IncCounter("tracketl_rows_total", float64(res.Failed), metrics.Labels{"kind": "failed"})

	if err != nil {
		return sum, err
	}
	return sum, nil
}

// timedStep runs one pipeline step and records its count and duration under
// a step/status label pair.
func timedStep[T any](ctx context.Context, step string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	out, err := fn(ctx)

	status := "ok"
	if err != nil {
		status = "error"
	}
	labels := metrics.Labels{"step": step, "status": status}
	metrics.IncCounter("tracketl_step_total", 1, labels)
	metrics.ObserveHistogram("tracketl_step_duration_seconds", time.Since(start).Seconds(), labels)
	return out, err
}
