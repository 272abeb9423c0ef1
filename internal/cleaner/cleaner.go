// Package cleaner prepares a raw Spotify track dataset for loading: it drops
// the exported index column, fills missing text fields, coerces numeric
// columns with median fill, and removes duplicate tracks.
//
// Cleaning is idempotent: running Clean over already-clean data changes
// nothing.
package cleaner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"tracketl/internal/dataset"
)

// indexColumn is the normalized name of the index column pandas-style CSV
// exports carry.
const indexColumn = "unnamed:_0"

// textFillColumns are filled with "Unknown" when missing.
var textFillColumns = []string{"artists", "album_name", "track_name"}

// numericColumns are always coerced to numbers with median fill.
var numericColumns = []string{
	"danceability", "energy", "loudness", "speechiness", "acousticness",
	"instrumentalness", "liveness", "valence", "tempo", "duration_ms",
	"key", "mode", "time_signature", "popularity",
}

// criticalColumns must not be missing after cleaning.
var criticalColumns = []string{"track_id", "artists", "track_name", "popularity"}

// audioFeatures are expected to be numeric after cleaning.
var audioFeatures = []string{
	"danceability", "energy", "valence", "loudness", "speechiness",
	"acousticness", "instrumentalness", "liveness", "tempo",
}

// heuristicSample is how many non-null values are probed when deciding
// whether an unlisted column is numeric-like.
const heuristicSample = 20

// Report summarizes what Clean changed.
type Report struct {
	DroppedIndexColumn bool
	// FilledText counts "Unknown" fills per text column.
	FilledText map[string]int
	// MedianFilled counts median fills per numeric column.
	MedianFilled map[string]int
	// NumericColumns lists the columns coerced to numbers, in column order.
	NumericColumns []string
	// DuplicatesRemoved is the number of rows dropped by deduplication.
	DuplicatesRemoved int
	// DedupeKey is "track_id" or "whole_row".
	DedupeKey string
}

// Clean returns a cleaned copy of ds. The input is not modified.
func Clean(ds *dataset.Dataset) (*dataset.Dataset, Report) {
	rep := Report{
		FilledText:   map[string]int{},
		MedianFilled: map[string]int{},
	}

	out := ds.Clone()

	if out.ColumnIndex(indexColumn) >= 0 {
		out.DropColumn(indexColumn)
		rep.DroppedIndexColumn = true
	}

	normalizeText(out)
	fillText(out, &rep)
	coerceNumeric(out, &rep)
	dedupe(out, &rep)

	return out, rep
}

// normalizeText applies Unicode NFC to every string cell so that visually
// identical track and artist names compare equal during deduplication.
func normalizeText(ds *dataset.Dataset) {
	for _, row := range ds.Rows {
		for i, v := range row {
			if s, ok := v.(string); ok {
				row[i] = norm.NFC.String(s)
			}
		}
	}
}

func fillText(ds *dataset.Dataset, rep *Report) {
	for _, name := range textFillColumns {
		idx := ds.ColumnIndex(name)
		if idx < 0 {
			continue
		}
		for _, row := range ds.Rows {
			if row[idx] == nil {
				row[idx] = "Unknown"
				rep.FilledText[name]++
			}
		}
	}
}

func coerceNumeric(ds *dataset.Dataset, rep *Report) {
	listed := map[string]bool{}
	for _, c := range numericColumns {
		listed[c] = true
	}

	for idx, name := range ds.Columns {
		if !listed[name] && !looksNumeric(ds, idx) {
			continue
		}
		coerceColumn(ds, idx, name, rep)
	}
}

// looksNumeric samples the first values of an unlisted column and returns
// true when at least half of the sample parses as a number.
func looksNumeric(ds *dataset.Dataset, idx int) bool {
	var sampled, numeric int
	for _, row := range ds.Rows {
		if sampled == heuristicSample {
			break
		}
		v := row[idx]
		if v == nil {
			continue
		}
		sampled++
		if _, ok := toFloat(v); ok {
			numeric++
		}
	}
	if sampled == 0 {
		return false
	}
	threshold := sampled / 2
	if threshold < 1 {
		threshold = 1
	}
	return numeric >= threshold
}

// coerceColumn converts each value to a number, replaces unparseable values
// and nulls with the column median, and keeps int64 when every value is
// integral.
func coerceColumn(ds *dataset.Dataset, idx int, name string, rep *Report) {
	vals := make([]float64, 0, ds.Len())
	parsed := make([]*float64, ds.Len())
	for i, row := range ds.Rows {
		if f, ok := toFloat(row[idx]); ok {
			vals = append(vals, f)
			parsed[i] = &f
		}
	}
	rep.NumericColumns = append(rep.NumericColumns, name)
	if len(vals) == 0 {
		return
	}

	med := median(vals)
	integral := isIntegral(med)
	for _, f := range vals {
		if !isIntegral(f) {
			integral = false
		}
	}

	for i, row := range ds.Rows {
		f := med
		if parsed[i] != nil {
			f = *parsed[i]
		} else {
			rep.MedianFilled[name]++
		}
		if integral {
			row[idx] = int64(f)
		} else {
			row[idx] = f
		}
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isIntegral(f float64) bool { return f == float64(int64(f)) }

// median of a non-empty slice; the even case averages the middle pair.
func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func dedupe(ds *dataset.Dataset, rep *Report) {
	idIdx := ds.ColumnIndex("track_id")

	key := func(row []any) string {
		if idIdx >= 0 {
			return dataset.FormatValue(row[idIdx])
		}
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = dataset.FormatValue(v)
		}
		return strings.Join(parts, "\x1f")
	}

	if idIdx >= 0 {
		rep.DedupeKey = "track_id"
	} else {
		rep.DedupeKey = "whole_row"
	}

	seen := map[string]bool{}
	kept := ds.Rows[:0]
	for _, row := range ds.Rows {
		k := key(row)
		if seen[k] {
			rep.DuplicatesRemoved++
			continue
		}
		seen[k] = true
		kept = append(kept, row)
	}
	ds.Rows = kept
}

// QualityReport is the post-cleaning validation summary.
type QualityReport struct {
	TotalRows    int
	TotalColumns int
	// MissingValues maps column name to null count; only non-zero entries
	// are present.
	MissingValues map[string]int
	// DuplicateTracks counts repeated track_id values.
	DuplicateTracks int
	// DuplicateRows counts exact duplicate rows.
	DuplicateRows int
	Issues        []string
}

// Validate inspects a dataset and reports residual quality problems. An
// empty issue list means the dataset passed every check.
func Validate(ds *dataset.Dataset) QualityReport {
	rep := QualityReport{
		TotalRows:     ds.Len(),
		TotalColumns:  len(ds.Columns),
		MissingValues: map[string]int{},
	}

	for idx, name := range ds.Columns {
		n := 0
		for _, row := range ds.Rows {
			if row[idx] == nil {
				n++
			}
		}
		if n > 0 {
			rep.MissingValues[name] = n
		}
	}

	if idIdx := ds.ColumnIndex("track_id"); idIdx >= 0 {
		seen := map[string]bool{}
		for _, row := range ds.Rows {
			k := dataset.FormatValue(row[idIdx])
			if seen[k] {
				rep.DuplicateTracks++
			}
			seen[k] = true
		}
		if rep.DuplicateTracks > 0 {
			rep.Issues = append(rep.Issues, fmt.Sprintf("found %d duplicate track_ids", rep.DuplicateTracks))
		}
	}

	seen := map[string]bool{}
	for _, row := range ds.Rows {
		parts := make([]string, len(row))
		for i, v := range row {
			parts[i] = dataset.FormatValue(v)
		}
		k := strings.Join(parts, "\x1f")
		if seen[k] {
			rep.DuplicateRows++
		}
		seen[k] = true
	}

	for _, name := range criticalColumns {
		if n := rep.MissingValues[name]; n > 0 {
			rep.Issues = append(rep.Issues, fmt.Sprintf("column %q has %d missing values", name, n))
		}
	}

	var nonNumeric []string
	for _, name := range audioFeatures {
		idx := ds.ColumnIndex(name)
		if idx < 0 {
			continue
		}
		for _, row := range ds.Rows {
			v := row[idx]
			if v == nil {
				continue
			}
			if _, ok := toFloat(v); !ok {
				nonNumeric = append(nonNumeric, name)
				break
			}
			// Stored strings do not count as numeric even when parseable.
			if _, isStr := v.(string); isStr {
				nonNumeric = append(nonNumeric, name)
				break
			}
		}
	}
	if len(nonNumeric) > 0 {
		rep.Issues = append(rep.Issues, fmt.Sprintf("audio features not numeric: %s", strings.Join(nonNumeric, ", ")))
	}

	if ds.ColumnIndex(indexColumn) >= 0 {
		rep.Issues = append(rep.Issues, "index column still present")
	}

	return rep
}

// Render formats a QualityReport for terminal output.
func (r QualityReport) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "rows: %d, columns: %d\n", r.TotalRows, r.TotalColumns)
	fmt.Fprintf(&b, "duplicate rows: %d, duplicate tracks: %d\n", r.DuplicateRows, r.DuplicateTracks)
	if len(r.Issues) == 0 {
		b.WriteString("all quality checks passed\n")
		return b.String()
	}
	for _, iss := range r.Issues {
		b.WriteString("issue: ")
		b.WriteString(iss)
		b.WriteByte('\n')
	}
	return b.String()
}
