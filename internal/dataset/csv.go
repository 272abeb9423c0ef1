package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// CSVOptions control CSV reading. The zero value is a sane default for the
// Spotify export: comma-delimited, header row present, cells trimmed.
type CSVOptions struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// NoHeader indicates the first record is data; columns are then named
	// col_1, col_2, ...
	NoHeader bool
	// KeepSpace disables trimming of cell whitespace.
	KeepSpace bool
}

// CSVStats reports what a read skipped over.
type CSVStats struct {
	// Lines is the number of records read, header included.
	Lines int
	// Skipped counts records dropped because their field count did not match
	// the header.
	Skipped int
}

// ReadCSV reads a whole CSV file into a Dataset.
//
// Header names are normalized: surrounding whitespace and a leading UTF-8 BOM
// are stripped, names are lowercased, and internal spaces become underscores,
// so "Track Name" and "track_name" address the same column.
//
// Parsing is best-effort: records whose field count differs from the header
// are skipped and counted in CSVStats rather than failing the read. Empty
// cells become nil.
func ReadCSV(path string, opt CSVOptions) (*Dataset, CSVStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, CSVStats{}, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return readCSV(f, opt)
}

func readCSV(r io.Reader, opt CSVOptions) (*Dataset, CSVStats, error) {
	comma := opt.Comma
	if comma == 0 {
		comma = ','
	}

	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1 // field counts are validated manually
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	var stats CSVStats

	read := func() ([]string, error) {
		rec, err := cr.Read()
		if err == nil {
			stats.Lines++
		}
		return rec, err
	}

	first, err := read()
	if err == io.EOF {
		return nil, stats, fmt.Errorf("read csv: empty input")
	}
	if err != nil {
		return nil, stats, fmt.Errorf("read csv header: %w", err)
	}

	var columns []string
	var ds *Dataset

	if opt.NoHeader {
		columns = make([]string, len(first))
		for i := range first {
			columns[i] = "col_" + strconv.Itoa(i+1)
		}
		ds = New(columns)
		ds.Rows = append(ds.Rows, recordToRow(first, opt))
	} else {
		columns = make([]string, len(first))
		for i, h := range first {
			if i == 0 {
				h = strings.TrimPrefix(h, "\uFEFF")
			}
			columns[i] = NormalizeColumnName(h)
		}
		ds = New(columns)
	}

	for {
		rec, err := read()
		if err == io.EOF {
			return ds, stats, nil
		}
		if err != nil {
			return ds, stats, fmt.Errorf("read csv line %d: %w", stats.Lines+1, err)
		}
		if len(rec) != len(columns) {
			stats.Skipped++
			continue
		}
		ds.Rows = append(ds.Rows, recordToRow(rec, opt))
	}
}

func recordToRow(rec []string, opt CSVOptions) []any {
	row := make([]any, len(rec))
	for i, v := range rec {
		if !opt.KeepSpace {
			v = strings.TrimSpace(v)
		}
		if v == "" {
			row[i] = nil
		} else {
			row[i] = v
		}
	}
	return row
}

// NormalizeColumnName converts a raw CSV header cell into the canonical
// column name used throughout the pipeline.
func NormalizeColumnName(h string) string {
	h = strings.TrimSpace(h)
	h = strings.ToLower(h)
	return strings.ReplaceAll(h, " ", "_")
}

// WriteCSV writes a Dataset back out as UTF-8 CSV with a header row.
// nil values become empty cells; booleans are written as "true"/"false".
func WriteCSV(path string, ds *Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv: %w", err)
	}

	w := csv.NewWriter(f)
	writeErr := w.Write(ds.Columns)

	rec := make([]string, len(ds.Columns))
	for _, row := range ds.Rows {
		if writeErr != nil {
			break
		}
		for j, v := range row {
			rec[j] = FormatValue(v)
		}
		writeErr = w.Write(rec)
	}

	w.Flush()
	if writeErr == nil {
		writeErr = w.Error()
	}
	if writeErr != nil {
		_ = f.Close()
		return fmt.Errorf("write csv: %w", writeErr)
	}
	return f.Close()
}

// FormatValue renders a Dataset value as a CSV cell.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(v)
	}
}
