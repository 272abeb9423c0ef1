// Package schema implements column type inference for tabular datasets and
// the value coercion used when rows are written to a destination table.
//
// Design constraints:
//   - Inference is deterministic for identical input and has no side effects.
//   - Coercion is an explicit result-or-error function per type; it never
//     panics and never uses recover for control flow.
package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"tracketl/internal/dataset"
)

// Type is the inferred semantic type of a column.
type Type int

const (
	Text Type = iota
	Integer
	Float
	Bool
)

func (t Type) String() string {
	switch t {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Float:
		return "float"
	case Bool:
		return "boolean"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Column is one inferred column: its canonical name, its type, and the
// longest string value observed during inference. MaxLen is used by backends
// that size variable-length string columns (MySQL VARCHAR).
type Column struct {
	Name   string
	Type   Type
	MaxLen int
}

// Schema is an ordered column-to-type mapping. Order follows the source
// dataset's column order.
type Schema struct {
	Columns []Column
}

// Column returns the schema entry for a named column.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Names returns column names in schema order.
func (s Schema) Names() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// ErrNoColumns is returned by Infer when the dataset has no columns at all.
var ErrNoColumns = errors.New("schema: dataset has no columns")

// CoerceError describes a single value that could not be converted to its
// column's declared type.
type CoerceError struct {
	Type  Type
	Value any
}

func (e *CoerceError) Error() string {
	return fmt.Sprintf("cannot coerce %q to %s", dataset.FormatValue(e.Value), e.Type)
}

// Coerce converts a raw dataset value to the Go representation of the given
// type: string for Text, int64 for Integer, float64 for Float, bool for Bool.
// nil passes through unchanged (NULL in the destination).
//
// Database reads can yield typed values directly, so Coerce accepts int64,
// float64 and bool inputs as well as strings. An int64 0/1 coerces to Bool
// because SQLite stores booleans as integers.
func Coerce(t Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch t {
	case Text:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return dataset.FormatValue(v), nil

	case Integer:
		switch x := v.(type) {
		case int64:
			return x, nil
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case float64:
			if x == math.Trunc(x) && !math.IsInf(x, 0) {
				return int64(x), nil
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n, nil
			}
		}
		return nil, &CoerceError{Type: t, Value: v}

	case Float:
		switch x := v.(type) {
		case float64:
			if isFiniteFloat(x) {
				return x, nil
			}
		case int64:
			return float64(x), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil && isFiniteFloat(f) {
				return f, nil
			}
		}
		return nil, &CoerceError{Type: t, Value: v}

	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case int64:
			switch x {
			case 0:
				return false, nil
			case 1:
				return true, nil
			}
		case string:
			if b, ok := ParseBoolToken(x); ok {
				return b, nil
			}
		}
		return nil, &CoerceError{Type: t, Value: v}
	}

	return nil, &CoerceError{Type: t, Value: v}
}

func isFiniteFloat(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// ParseBoolToken parses the enumerated boolean literals accepted by
// inference and coercion. It is case-insensitive and whitespace-tolerant.
//
// Truthy: 1, t, true, yes, y. Falsy: 0, f, false, no, n.
func ParseBoolToken(s string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	default:
		return false, false
	}
}
