// Package table provides the tabular record representation shared by the
// ingestion jobs: building tables from decoded API records, deduplicating
// rows, projecting to a fixed column order, and encoding/decoding CSV.
package table

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Table is an ordered set of columns and rendered string rows. Rows always
// have exactly len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// FromRecords builds a Table from decoded JSON objects. Columns are the
// sorted union of all keys seen across the records; cells for keys absent
// from a record are empty.
func FromRecords(records []map[string]any) *Table {
	seen := make(map[string]bool)
	var columns []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := rec[col]; ok {
				row[i] = RenderCell(v)
			}
		}
		rows = append(rows, row)
	}

	return &Table{Columns: columns, Rows: rows}
}

// RenderCell renders a decoded JSON value the way it will appear in CSV
// output. Numbers must have been decoded with json.Number to round-trip
// identifiers without float mangling.
func RenderCell(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case bool:
		return strconv.FormatBool(value)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(value, 10)
	case int:
		return strconv.Itoa(value)
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprintf("%v", value)
		}
		return string(b)
	}
}

func (t *Table) Len() int {
	return len(t.Rows)
}

// ColumnIndex returns the position of the named column, or -1 if the table
// does not have it.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// DropDuplicatesKeepLast removes rows which are exact duplicates of another
// row across every column, keeping the last occurrence in its original
// position. Retried or overlapping API pages can return identical rows, so
// this runs on every accumulated set before it is written.
func (t *Table) DropDuplicatesKeepLast() *Table {
	last := make(map[string]int, len(t.Rows))
	for i, row := range t.Rows {
		last[rowKey(row)] = i
	}

	rows := make([][]string, 0, len(last))
	for i, row := range t.Rows {
		if last[rowKey(row)] == i {
			rows = append(rows, row)
		}
	}

	return &Table{Columns: t.Columns, Rows: rows}
}

func rowKey(row []string) string {
	var b strings.Builder
	for _, cell := range row {
		b.WriteString(strconv.Quote(cell))
		b.WriteByte(',')
	}
	return b.String()
}

// MissingColumnsError is returned by Project when the table lacks one or
// more of the requested columns.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("missing expected columns: %s", strings.Join(e.Missing, ", "))
}

// Project returns a new Table restricted to exactly the given columns, in
// the given order. All requested columns must be present; otherwise a
// *MissingColumnsError naming the absent ones is returned.
func (t *Table) Project(columns []string) (*Table, error) {
	idx := make([]int, len(columns))
	var missing []string
	for i, col := range columns {
		j := t.ColumnIndex(col)
		if j < 0 {
			missing = append(missing, col)
		}
		idx[i] = j
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing}
	}

	rows := make([][]string, len(t.Rows))
	for i, row := range t.Rows {
		out := make([]string, len(columns))
		for j, k := range idx {
			out[j] = row[k]
		}
		rows[i] = out
	}

	return &Table{Columns: append([]string(nil), columns...), Rows: rows}, nil
}

// MinMaxInt scans the named column as int64 and returns its minimum and
// maximum. It fails if the column is absent, the table has no rows, or any
// cell does not parse as an integer.
func (t *Table) MinMaxInt(column string) (int64, int64, error) {
	i := t.ColumnIndex(column)
	if i < 0 {
		return 0, 0, &MissingColumnsError{Missing: []string{column}}
	}
	if len(t.Rows) == 0 {
		return 0, 0, fmt.Errorf("no rows to scan for column %q", column)
	}

	var min, max int64
	for n, row := range t.Rows {
		v, err := strconv.ParseInt(row[i], 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parsing %q value %q: %w", column, row[i], err)
		}
		if n == 0 || v < min {
			min = v
		}
		if n == 0 || v > max {
			max = v
		}
	}

	return min, max, nil
}

// MaxInt is MinMaxInt returning only the maximum.
func (t *Table) MaxInt(column string) (int64, error) {
	_, max, err := t.MinMaxInt(column)
	return max, err
}
