// Package dataset holds in-memory tabular data read from a CSV file or a
// database table. A Dataset is the unit of work the rest of the pipeline
// (inference, cleaning, loading) operates on.
//
// Values inside a row are one of: string, int64, float64, bool, or nil.
// CSV reads produce only string and nil; database reads may produce the
// numeric and boolean variants directly.
package dataset

import "fmt"

// Dataset is ordered tabular data with a fixed column set.
//
// Rows are positional and aligned with Columns. The column order is the order
// of first appearance in the source (CSV header order, or SELECT order for
// database reads). Row order is the source order.
type Dataset struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty Dataset with the given column names.
func New(columns []string) *Dataset {
	return &Dataset{Columns: append([]string(nil), columns...)}
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.Rows) }

// ColumnIndex returns the position of a named column, or -1 if absent.
func (d *Dataset) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Append adds a row. The row must already be aligned with Columns.
func (d *Dataset) Append(row []any) error {
	if len(row) != len(d.Columns) {
		return fmt.Errorf("dataset: row has %d values, want %d", len(row), len(d.Columns))
	}
	d.Rows = append(d.Rows, row)
	return nil
}

// Column returns all values of a named column in row order.
// Returns nil if the column does not exist.
func (d *Dataset) Column(name string) []any {
	ix := d.ColumnIndex(name)
	if ix < 0 {
		return nil
	}
	out := make([]any, 0, len(d.Rows))
	for _, r := range d.Rows {
		out = append(out, r[ix])
	}
	return out
}

// DropColumn removes a column and its values from every row.
// It is a no-op when the column does not exist.
func (d *Dataset) DropColumn(name string) {
	ix := d.ColumnIndex(name)
	if ix < 0 {
		return
	}
	d.Columns = append(d.Columns[:ix], d.Columns[ix+1:]...)
	for i, r := range d.Rows {
		d.Rows[i] = append(r[:ix], r[ix+1:]...)
	}
}

// Clone returns a deep copy of the Dataset. Values themselves are scalars,
// so copying the row slices is sufficient.
func (d *Dataset) Clone() *Dataset {
	out := New(d.Columns)
	out.Rows = make([][]any, len(d.Rows))
	for i, r := range d.Rows {
		out.Rows[i] = append([]any(nil), r...)
	}
	return out
}
