// Package sqlite implements storage.Repository for SQLite files via the
// CGo-free modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"tracketl/internal/dataset"
	"tracketl/internal/schema"
	"tracketl/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// Type mapping notes:
//   - SQLite has no native BOOLEAN; booleans are stored as INTEGER 0/1.
//     schema.Coerce accepts int64 0/1 for Bool, so round-trips through a
//     SQLite intermediate store stay lossless.
//   - TEXT affinity covers all inferred text columns; MaxLen is ignored.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

// New opens (or creates) the SQLite file named by cfg.DSN.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) Provision(ctx context.Context, table string, sch schema.Schema) error {
	if err := storage.ValidateIdent(table); err != nil {
		return &storage.ProvisionError{Table: table, Err: err}
	}

	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(table)); err != nil {
		return &storage.ProvisionError{Table: table, Err: fmt.Errorf("drop: %w", err)}
	}

	cols := make([]string, 0, len(sch.Columns))
	for _, c := range sch.Columns {
		cols = append(cols, sqlIdent(c.Name)+" "+columnType(c.Type))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", sqlIdent(table), strings.Join(cols, ",\n  "))

	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return &storage.ProvisionError{Table: table, Err: fmt.Errorf("create: %w", err)}
	}
	return nil
}

func columnType(t schema.Type) string {
	switch t {
	case schema.Integer:
		return "INTEGER"
	case schema.Float:
		return "REAL"
	case schema.Bool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (r *Repo) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, row...)
	}

	_, err := r.db.ExecContext(ctx, b.String(), args...)
	return err
}

func (r *Repo) ReadTable(ctx context.Context, table string) (*dataset.Dataset, error) {
	if err := storage.ValidateIdent(table); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, "SELECT * FROM "+sqlIdent(table))
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	ds := dataset.New(cols)
	for rows.Next() {
		vals := make([]any, len(cols))
		scan := make([]any, len(cols))
		for i := range vals {
			scan[i] = &vals[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("read table %s: %w", table, err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		ds.Rows = append(ds.Rows, vals)
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
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+sqlIdent(table)).Scan(&n)
	return n, err
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
