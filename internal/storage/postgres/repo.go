// Package postgres implements storage.Repository for PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tracketl/internal/dataset"
	"tracketl/internal/schema"
	"tracketl/internal/storage"
)

// Repo implements storage.Repository for Postgres.
//
// Batch inserts use the COPY protocol rather than multi-row INSERT; for the
// dataset sizes this tool handles, COPY is both simpler and faster than
// placeholder assembly.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

// New creates a pooled connection from a standard Postgres DSN or URL.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) Provision(ctx context.Context, table string, sch schema.Schema) error {
	if err := storage.ValidateIdent(table); err != nil {
		return &storage.ProvisionError{Table: table, Err: err}
	}

	if _, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+sqlIdent(table)); err != nil {
		return &storage.ProvisionError{Table: table, Err: fmt.Errorf("drop: %w", err)}
	}

	cols := make([]string, 0, len(sch.Columns))
	for _, c := range sch.Columns {
		cols = append(cols, sqlIdent(c.Name)+" "+columnType(c.Type))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", sqlIdent(table), strings.Join(cols, ",\n  "))

	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return &storage.ProvisionError{Table: table, Err: fmt.Errorf("create: %w", err)}
	}
	return nil
}

func columnType(t schema.Type) string {
	switch t {
	case schema.Integer:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE PRECISION"
	case schema.Bool:
		return "BOOLEAN"
	default:
		return "TEXT"
	}
}

func (r *Repo) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{table},
		columns,
		pgx.CopyFromRows(rows),
	)
	return err
}

func (r *Repo) ReadTable(ctx context.Context, table string) (*dataset.Dataset, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, "SELECT * FROM "+sqlIdent(table))
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", table, err)
	}
	defer rows.Close()

	fds := rows.FieldDescriptions()
	cols := make([]string, len(fds))
	for i, fd := range fds {
		cols[i] = fd.Name
	}

	ds := dataset.New(cols)
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read table %s: %w", table, err)
		}
		row := make([]any, len(vals))
		for i, v := range vals {
			switch t := v.(type) {
			case []byte:
				row[i] = string(t)
			case int32:
				row[i] = int64(t)
			case int16:
				row[i] = int64(t)
			case float32:
				row[i] = float64(t)
			default:
				row[i] = v
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read table %s: %w", table, err)
	}
	return ds, nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return 0, err
	}
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n)
	return n, err
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
