// Package storage defines the backend-agnostic destination-store interface
// and the factory registry backends register themselves with.
//
// Backends live in subpackages (sqlite, mysql, postgres, mssql) and register
// a factory from an init function; importing tracketl/internal/storage/all
// pulls every backend into a binary.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"tracketl/internal/dataset"
	"tracketl/internal/schema"
)

// Config selects and configures a destination backend.
//
// Kind must match a registered backend kind. DSN is passed through to the
// backend factory; its format is backend-specific (file path for sqlite,
// go-sql-driver DSN for mysql, and so on).
type Config struct {
	Kind string
	DSN  string
}

// Repository is the minimal surface the migration pipeline needs from a
// relational store. Each backend implements these semantics in its own
// dialect.
type Repository interface {
	// Provision drops any pre-existing table of the same name and creates it
	// fresh with columns in schema order. Destructive and not reversible.
	// DDL failures surface as *ProvisionError.
	Provision(ctx context.Context, table string, sch schema.Schema) error

	// InsertBatch inserts rows as one multi-row INSERT. Columns must align
	// with each row's values. Errors are destination-fatal; per-row coercion
	// is the loader's job and has already happened.
	InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) error

	// ReadTable reads an entire table into a Dataset, preserving column
	// order. Used when the store is the source side of a migration.
	ReadTable(ctx context.Context, table string) (*dataset.Dataset, error)

	// CountRows returns the row count of a table.
	CountRows(ctx context.Context, table string) (int64, error)

	// Close releases the underlying connection. Call once.
	Close()
}

// ProvisionError is a fatal DDL failure while (re)creating a destination
// table. It is never retried.
type ProvisionError struct {
	Table string
	Err   error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision table %s: %v", e.Table, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// identPattern is deliberately conservative: table names reach DDL via
// string interpolation, so anything outside this set is rejected up front.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdent rejects table names that are unsafe to interpolate into SQL.
func ValidateIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend factory under a kind (e.g. "sqlite").
//
// Call Register from an init function in a backend package. Registering the
// same kind twice panics so ambiguous backend selection fails fast at
// startup rather than at migration time.
func Register(kind string, f factory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository for the configured backend kind.
//
// Returns an error if cfg.Kind is empty or not registered, or whatever the
// backend factory returns (typically a connect/ping failure).
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	regMu.RLock()
	f := factories[cfg.Kind]
	regMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("storage: unsupported kind=%q", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds. Used by CLI usage strings.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
