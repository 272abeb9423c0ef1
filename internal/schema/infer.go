package schema

import (
	"strconv"
	"strings"

	"tracketl/internal/dataset"
)

// ladder orders the non-text types from narrowest to widest. Every integer
// parses as a float; boolean tokens are their own class.
var ladder = [...]Type{Bool, Integer, Float}

// Infer assigns exactly one Type to every column of the dataset.
//
// The first non-null value anchors the column: the narrowest class it parses
// as (boolean token, base-10 64-bit integer, finite 64-bit float, else text).
// The remaining values widen the anchor along boolean, integer, float to the
// type the most values conform to. Values that fit no type at or above the
// anchor are tolerated as long as at least half of the non-null values
// conform; otherwise the column falls back to text. A tolerated value later
// fails coercion during the load and its row is skipped and reported, which
// is how a stray "not_a_number" in a numeric column surfaces.
//
// A column whose first value is unparseable is text immediately, and a
// column with no non-null values defaults to text. Values already typed by a
// database read (int64, float64, bool) count toward the matching class.
// None of this mutates the dataset, and repeated calls on the same input
// produce the same schema.
//
// Numeric policy: integers accept leading zeros and an optional sign but no
// digit separators; floats accept scientific notation but only '.' as the
// decimal separator; NaN and infinities are rejected.
//
// Column.MaxLen is the length of the longest trimmed string value and is
// tracked across every row regardless of the inferred type.
//
// Infer fails only when the dataset has zero columns.
func Infer(ds *dataset.Dataset) (Schema, error) {
	if len(ds.Columns) == 0 {
		return Schema{}, ErrNoColumns
	}

	sch := Schema{Columns: make([]Column, len(ds.Columns))}

	for ix, name := range ds.Columns {
		var nonNull, maxLen int
		var conform [len(ladder)]int
		anchor := -1

		for _, row := range ds.Rows {
			v := row[ix]
			if v == nil {
				continue
			}
			nonNull++

			if s, ok := v.(string); ok {
				if n := len(strings.TrimSpace(s)); n > maxLen {
					maxLen = n
				}
			}

			b, i, f := isBoolValue(v), isIntValue(v), isFloatValue(v)
			if b {
				conform[0]++
			}
			if i {
				conform[1]++
			}
			if f {
				conform[2]++
			}

			if anchor < 0 {
				switch {
				case b:
					anchor = 0
				case i:
					anchor = 1
				case f:
					anchor = 2
				default:
					anchor = len(ladder) // text, settled for the column
				}
			}
		}

		t := Text
		if nonNull > 0 && anchor < len(ladder) {
			best := 0
			for _, c := range conform[anchor:] {
				if c > best {
					best = c
				}
			}
			// Majority rule: the winning type must cover at least half of
			// the non-null values.
			if 2*best >= nonNull {
				for li := anchor; li < len(ladder); li++ {
					if conform[li] == best {
						t = ladder[li]
						break
					}
				}
			}
		}

		sch.Columns[ix] = Column{Name: name, Type: t, MaxLen: maxLen}
	}

	return sch, nil
}

func isBoolValue(v any) bool {
	switch x := v.(type) {
	case bool:
		return true
	case int64:
		return x == 0 || x == 1
	case string:
		_, ok := ParseBoolToken(x)
		return ok
	default:
		return false
	}
}

func isIntValue(v any) bool {
	switch x := v.(type) {
	case int64:
		return true
	case string:
		_, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return err == nil
	default:
		return false
	}
}

func isFloatValue(v any) bool {
	switch x := v.(type) {
	case int64:
		return true
	case float64:
		return isFiniteFloat(x)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return err == nil && isFiniteFloat(f)
	default:
		return false
	}
}
