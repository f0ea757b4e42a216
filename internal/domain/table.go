package domain

import (
	"strconv"
)

// ScalarKind records which JSON/CSV value type a raw cell came from.
type ScalarKind uint8

const (
	KindNull ScalarKind = iota
	KindString
	KindNumber
	KindBool
)

// Scalar is a raw cell exactly as it appeared in the source file. Text holds
// the literal source text (unescaped for strings) for every kind but KindNull.
type Scalar struct {
	Kind ScalarKind
	Text string
}

// NullScalar returns a null cell.
func NullScalar() Scalar { return Scalar{Kind: KindNull} }

// StringScalar returns a string cell.
func StringScalar(s string) Scalar { return Scalar{Kind: KindString, Text: s} }

// NumberScalar returns a numeric cell holding its literal source text.
func NumberScalar(literal string) Scalar { return Scalar{Kind: KindNumber, Text: literal} }

// BoolScalar returns a boolean cell.
func BoolScalar(b bool) Scalar { return Scalar{Kind: KindBool, Text: strconv.FormatBool(b)} }

// Row maps a column name to its raw value. A column absent from the map is a
// missing cell.
type Row map[string]Scalar

// RawTable is one source file parsed into rows with no type coercion.
// Columns lists every column name in first-seen order.
type RawTable struct {
	Columns []string
	Rows    []Row

	seen map[string]struct{}
}

// AppendRow adds a row. keys gives the row's column order so that columns
// first introduced by this row are registered in source order.
func (t *RawTable) AppendRow(keys []string, row Row) {
	if t.seen == nil {
		t.seen = make(map[string]struct{}, len(t.Columns)+len(keys))
		for _, c := range t.Columns {
			t.seen[c] = struct{}{}
		}
	}
	for _, k := range keys {
		if _, ok := t.seen[k]; ok {
			continue
		}
		t.seen[k] = struct{}{}
		t.Columns = append(t.Columns, k)
	}
	t.Rows = append(t.Rows, row)
}

// ColumnType is the single inferred type shared by every cell of a column.
type ColumnType string

const (
	ColumnString  ColumnType = "string"
	ColumnNumeric ColumnType = "numeric"
)

// Cell is one normalized value. Text is set for string columns and Num for
// numeric columns; all are zero when Missing. In an integer column Int holds
// the exact value and Num its nearest float.
type Cell struct {
	Missing bool
	Text    string
	Num     float64
	Int     int64
}

// Column is a named, uniformly typed column of a normalized table. Integer is
// set on numeric columns whose every value is a whole int64.
type Column struct {
	Name    string
	Type    ColumnType
	Integer bool
	Cells   []Cell
}

// MissingCount returns the number of missing cells.
func (c Column) MissingCount() int {
	n := 0
	for _, cell := range c.Cells {
		if cell.Missing {
			n++
		}
	}
	return n
}

// Present returns the numeric values of the non-missing cells, in row order.
func (c Column) Present() []float64 {
	out := make([]float64, 0, len(c.Cells))
	for _, cell := range c.Cells {
		if !cell.Missing {
			out = append(out, cell.Num)
		}
	}
	return out
}

// Format renders cell i the way it is written to row-oriented artifacts.
// Missing cells render as the empty string.
func (c Column) Format(i int) string {
	cell := c.Cells[i]
	switch {
	case cell.Missing:
		return ""
	case c.Integer:
		return strconv.FormatInt(cell.Int, 10)
	case c.Type == ColumnNumeric:
		return FormatNumber(cell.Num)
	default:
		return cell.Text
	}
}

// Table is a normalized (silver) table stored column by column.
type Table struct {
	Columns []Column
	Rows    int
}

// Column returns the column with the given name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Schema returns the column names and types in order.
func (t Table) Schema() []ColumnSchema {
	out := make([]ColumnSchema, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = ColumnSchema{Name: c.Name, Type: c.Type, Integer: c.Integer}
	}
	return out
}

// Raw converts the table back into a RawTable. Numbers become their formatted
// text and missing cells become nulls.
func (t Table) Raw() RawTable {
	keys := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		keys[i] = c.Name
	}
	raw := RawTable{Columns: append([]string(nil), keys...)}
	for r := 0; r < t.Rows; r++ {
		row := make(Row, len(t.Columns))
		for _, c := range t.Columns {
			switch {
			case c.Cells[r].Missing:
				row[c.Name] = NullScalar()
			case c.Type == ColumnNumeric:
				row[c.Name] = NumberScalar(c.Format(r))
			default:
				row[c.Name] = StringScalar(c.Cells[r].Text)
			}
		}
		raw.AppendRow(keys, row)
	}
	return raw
}

// FormatNumber renders a float as the shortest decimal that parses back to
// the same value, e.g. 50 → "50", 2.5 → "2.5".
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
