// Package mssql implements storage.Repository for SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"tracketl/internal/dataset"
	"tracketl/internal/schema"
	"tracketl/internal/storage"
)

// Repo implements storage.Repository over database/sql and the "sqlserver"
// driver. Batch inserts are chunked to stay under SQL Server's hard limit of
// 2100 parameters per statement.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New opens a SQL Server connection from a sqlserver:// DSN and validates
// connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty batch loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) Provision(ctx context.Context, table string, sch schema.Schema) error {
	if err := storage.ValidateIdent(table); err != nil {
		return &storage.ProvisionError{Table: table, Err: err}
	}

	drop := fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s",
		strings.ReplaceAll(table, "'", "''"), sqlIdent(table))
	if _, err := r.db.ExecContext(ctx, drop); err != nil {
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
		return "BIGINT"
	case schema.Float:
		return "FLOAT"
	case schema.Bool:
		return "BIT"
	default:
		return "NVARCHAR(MAX)"
	}
}

func (r *Repo) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if err := storage.ValidateIdent(table); err != nil {
		return err
	}

	// Each row consumes len(columns) parameters; the statement must stay
	// comfortably under the 2100-parameter limit.
	maxRows := 2000 / max(1, len(columns))
	if maxRows < 1 {
		maxRows = 1
	}

	for start := 0; start < len(rows); start += maxRows {
		end := start + maxRows
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.insertChunk(ctx, table, columns, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) insertChunk(ctx context.Context, table string, columns []string, rows [][]any) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j, v := range row {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString("@p")
			b.WriteString(strconv.Itoa(p))
			p++
			args = append(args, v)
		}
		b.WriteString(")")
	}

	if _, err := r.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("mssql: insert into %s: %w", table, err)
	}
	return nil
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
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
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
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
