// Package loader moves Dataset rows into a provisioned table in batches,
// coercing each cell to the destination schema on the way.
//
// Row-level coercion failures are non-fatal: the offending row is skipped
// and recorded, and the load continues. Database errors are fatal and abort
// the load with the progress so far.
package loader

import (
	"context"
	"fmt"

	"tracketl/internal/dataset"
	"tracketl/internal/metrics"
	"tracketl/internal/schema"
	"tracketl/internal/storage"
)

// DefaultBatchSize is the number of rows per INSERT when none is configured.
const DefaultBatchSize = 1000

// RowError records one skipped row.
type RowError struct {
	// Row is the zero-based index into the source dataset.
	Row int
	// Column is the column whose value failed to coerce.
	Column string
	Err    error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d column %s: %v", e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// LoadError is a fatal failure that aborted a load partway through.
type LoadError struct {
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load table %s: %v", e.Table, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Result summarizes a load. Attempted == Succeeded + Failed always holds,
// including after a fatal abort.
type Result struct {
	Attempted int
	Succeeded int
	Failed    int
	// Errors holds one entry per skipped row, in source order.
	Errors []*RowError
}

// Loader writes rows into a Repository.
type Loader struct {
	Repo storage.Repository
	// BatchSize caps rows per INSERT. Zero means DefaultBatchSize.
	BatchSize int
}

// Load coerces every dataset row to sch and inserts the survivors into table
// in batches.
//
// The dataset's columns must match sch exactly (same names, same order);
// Provision and Load are expected to run against the same inferred schema.
func (l *Loader) Load(ctx context.Context, table string, sch schema.Schema, ds *dataset.Dataset) (Result, error) {
	var res Result

	if len(ds.Columns) != len(sch.Columns) {
		return res, &LoadError{Table: table, Err: fmt.Errorf("dataset has %d columns, schema has %d", len(ds.Columns), len(sch.Columns))}
	}
	for i, c := range sch.Columns {
		if ds.Columns[i] != c.Name {
			return res, &LoadError{Table: table, Err: fmt.Errorf("column %d is %q, schema expects %q", i, ds.Columns[i], c.Name)}
		}
	}

	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	batch := make([][]any, 0, batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := l.Repo.InsertBatch(ctx, table, ds.Columns, batch); err != nil {
			// Rows in a failed batch never reached the table.
			res.Succeeded -= len(batch)
			res.Failed += len(batch)
			return &LoadError{Table: table, Err: err}
		}
		metrics.IncCounter("tracketl_batches_total", 1, nil)
		batch = batch[:0]
		return nil
	}

	for i, row := range ds.Rows {
		res.Attempted++

		out, rerr := coerceRow(i, row, sch)
		if rerr != nil {
			res.Failed++
			res.Errors = append(res.Errors, rerr)
			continue
		}

		res.Succeeded++
		batch = append(batch, out)
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				return res, err
			}
		}
	}
	if err := flush(); err != nil {
		return res, err
	}
	return res, nil
}

func coerceRow(idx int, row []any, sch schema.Schema) ([]any, *RowError) {
	out := make([]any, len(row))
	for j, c := range sch.Columns {
		v, err := schema.Coerce(c.Type, row[j])
		if err != nil {
			return nil, &RowError{Row: idx, Column: c.Name, Err: err}
		}
		out[j] = v
	}
	return out, nil
}
