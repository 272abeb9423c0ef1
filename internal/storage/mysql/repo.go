// Package mysql implements storage.Repository for MySQL-compatible servers
// using github.com/go-sql-driver/mysql.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	driver "github.com/go-sql-driver/mysql"

	"tracketl/internal/dataset"
	"tracketl/internal/schema"
	"tracketl/internal/storage"
)

// Repo implements storage.Repository for MySQL.
//
// Text columns with a known maximum sample length become VARCHAR sized from
// that length (padded and clamped, matching the historical loader behavior);
// otherwise TEXT. Booleans use BOOLEAN, which MySQL stores as TINYINT(1).
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mysql", New)
}

// New connects to the server named by a go-sql-driver DSN
// (user:pass@tcp(host:3306)/dbname).
//
// If the DSN names a database that does not exist yet, New connects without
// it first and issues CREATE DATABASE IF NOT EXISTS, so a fresh server works
// out of the box.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	mc, err := driver.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}

	if mc.DBName != "" {
		if err := ensureDatabase(ctx, mc); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func ensureDatabase(ctx context.Context, mc *driver.Config) error {
	name := mc.DBName

	server := mc.Clone()
	server.DBName = ""

	db, err := sql.Open("mysql", server.FormatDSN())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+sqlIdent(name))
	if err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
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
		cols = append(cols, sqlIdent(c.Name)+" "+columnType(c))
	}
	ddl := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", sqlIdent(table), strings.Join(cols, ",\n  "))

	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return &storage.ProvisionError{Table: table, Err: fmt.Errorf("create: %w", err)}
	}
	return nil
}

func columnType(c schema.Column) string {
	switch c.Type {
	case schema.Integer:
		return "BIGINT"
	case schema.Float:
		return "DOUBLE"
	case schema.Bool:
		return "BOOLEAN"
	default:
		if c.MaxLen > 0 {
			return fmt.Sprintf("VARCHAR(%d)", varcharLen(c.MaxLen))
		}
		return "TEXT"
	}
}

// varcharLen pads the observed maximum length and clamps it to a sane range,
// so re-running the load tolerates slightly longer values without switching
// every column to TEXT.
func varcharLen(maxLen int) int {
	n := maxLen + 100
	if n < 255 {
		n = 255
	}
	if n > 8192 {
		n = 8192
	}
	return n
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
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}
