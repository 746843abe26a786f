package pgcore

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Row is one result record: an ordered mapping from column name to value.
// Values are the Go types pgx decodes into (string, int32, int64,
// time.Time, ...). A Row is never modified after construction.
type Row struct {
	columns []string
	values  []any
}

// NewRow builds a Row from parallel column and value slices. Both are copied.
func NewRow(columns []string, values []any) (Row, error) {
	if len(columns) != len(values) {
		return Row{}, fmt.Errorf("pgcore: row has %d columns but %d values", len(columns), len(values))
	}
	return Row{
		columns: append([]string(nil), columns...),
		values:  append([]any(nil), values...),
	}, nil
}

func rowFrom(rows pgx.Rows) (Row, error) {
	vals, err := rows.Values()
	if err != nil {
		return Row{}, err
	}
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, fd := range fields {
		cols[i] = fd.Name
	}
	if len(cols) != len(vals) {
		return Row{}, fmt.Errorf("pgcore: row has %d columns but %d values", len(cols), len(vals))
	}
	return Row{columns: cols, values: append([]any(nil), vals...)}, nil
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.columns) }

// Columns returns the column names in result order.
func (r Row) Columns() []string { return append([]string(nil), r.columns...) }

// Values returns the values in result order.
func (r Row) Values() []any { return append([]any(nil), r.values...) }

// Get returns the value of the named column. When a result has duplicate
// column names the first one wins.
func (r Row) Get(column string) (any, bool) {
	for i, c := range r.columns {
		if c == column {
			return r.values[i], true
		}
	}
	return nil, false
}

// Map returns the row as a column-name map.
func (r Row) Map() map[string]any {
	m := make(map[string]any, len(r.columns))
	for i := len(r.columns) - 1; i >= 0; i-- {
		m[r.columns[i]] = r.values[i]
	}
	return m
}

func (r Row) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", c, r.values[i])
	}
	b.WriteByte('}')
	return b.String()
}
