package datafile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	errors "github.com/Laisky/errors/v2"
)

// Row is one result record that keeps the column order of the statement.
type Row struct {
	columns []string
	values  []any
}

// NewRow builds a Row, columns and values must have the same length.
func NewRow(columns []string, values []any) Row {
	return Row{columns: columns, values: values}
}

// Columns returns the column names in statement order.
func (r Row) Columns() []string {
	return r.columns
}

// Get returns the value of the first column called name.
func (r Row) Get(name string) (any, bool) {
	for i, col := range r.columns {
		if col == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// MarshalJSON encodes the row as a JSON object in column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(col)
		if err != nil {
			return nil, errors.Wrapf(err, "marshal column %q", col)
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, errors.Wrapf(err, "marshal value of %q", col)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// uniqueColumns suffixes repeated column names, as produced by joins, so
// every key of the JSON object stays addressable.
func uniqueColumns(columns []string) []string {
	seen := make(map[string]int, len(columns))
	out := make([]string, len(columns))
	for i, col := range columns {
		n := seen[col]
		seen[col] = n + 1
		if n == 0 {
			out[i] = col
			continue
		}
		name := col + "_" + strconv.Itoa(n)
		for seen[name] > 0 {
			n++
			name = col + "_" + strconv.Itoa(n)
		}
		seen[name] = 1
		out[i] = name
	}
	return out
}

// normalizeValue turns driver values into JSON friendly ones.
func normalizeValue(v any) any {
	switch typed := v.(type) {
	case []byte:
		return fmt.Sprintf("<BLOB: %d bytes>", len(typed))
	case float64:
		if math.IsNaN(typed) || math.IsInf(typed, 0) {
			return nil
		}
		return typed
	default:
		return typed
	}
}
