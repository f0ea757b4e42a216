package domain

import (
	"fmt"
	"math"
	"math/big"
	"slices"
	"strconv"
	"strings"
)

// FillAxis selects the direction along which the imputation median is taken.
type FillAxis string

const (
	// FillByColumn fills each numeric column with the median of its own
	// present values.
	FillByColumn FillAxis = "column"
	// FillByRow fills the numeric cells of each row with the median of that
	// row's present numeric values.
	FillByRow FillAxis = "row"
)

// ParseFillAxis validates a fill axis name. The empty string means FillByColumn.
func ParseFillAxis(s string) (FillAxis, error) {
	switch FillAxis(strings.ToLower(strings.TrimSpace(s))) {
	case "", FillByColumn:
		return FillByColumn, nil
	case FillByRow:
		return FillByRow, nil
	default:
		return "", fmt.Errorf("unknown fill axis %q: must be %q or %q", s, FillByColumn, FillByRow)
	}
}

// NormalizeReport describes what Normalize changed.
type NormalizeReport struct {
	Axis           FillAxis
	DroppedColumns []string
	NumericColumns []string
	ImputedCells   int
}

// sentinels are the trimmed, lower-cased spellings of a missing value.
var sentinels = map[string]struct{}{
	"":     {},
	"na":   {},
	"n/a":  {},
	"null": {},
	"none": {},
}

// IsSentinel reports whether a trimmed cell value stands for a missing value.
func IsSentinel(s string) bool {
	_, ok := sentinels[strings.ToLower(s)]
	return ok
}

// Normalize cleans a raw table: trims cells, maps sentinels to missing, drops
// all-missing columns, infers numeric columns all-or-nothing, and fills the
// remaining numeric gaps with a median along axis.
func Normalize(raw RawTable, axis FillAxis) (Table, NormalizeReport) {
	if axis == "" {
		axis = FillByColumn
	}
	report := NormalizeReport{Axis: axis}

	cols := trimColumns(raw)
	cols, report.DroppedColumns = dropEmptyColumns(cols)

	for i := range cols {
		if inferNumeric(&cols[i]) {
			report.NumericColumns = append(report.NumericColumns, cols[i].Name)
		}
	}

	table := Table{Columns: cols, Rows: len(raw.Rows)}
	if axis == FillByRow {
		report.ImputedCells = fillByRow(table)
	} else {
		report.ImputedCells = fillByColumn(table)
	}
	return table, report
}

// trimColumns performs the trim and sentinel steps, pivoting rows to columns.
func trimColumns(raw RawTable) []Column {
	cols := make([]Column, len(raw.Columns))
	for i, name := range raw.Columns {
		cells := make([]Cell, len(raw.Rows))
		for r, row := range raw.Rows {
			v, ok := row[name]
			if !ok || v.Kind == KindNull {
				cells[r] = Cell{Missing: true}
				continue
			}
			text := strings.TrimSpace(v.Text)
			if IsSentinel(text) {
				cells[r] = Cell{Missing: true}
				continue
			}
			cells[r] = Cell{Text: text}
		}
		cols[i] = Column{Name: name, Type: ColumnString, Cells: cells}
	}
	return cols
}

func dropEmptyColumns(cols []Column) ([]Column, []string) {
	kept := cols[:0]
	var dropped []string
	for _, c := range cols {
		if c.MissingCount() == len(c.Cells) {
			dropped = append(dropped, c.Name)
			continue
		}
		kept = append(kept, c)
	}
	return kept, dropped
}

// inferNumeric parses every present cell first and only converts the column
// when all of them succeed, so a column is never left half converted. A column
// of whole numbers keeps exact int64 values alongside the floats.
func inferNumeric(c *Column) bool {
	cells := make([]Cell, len(c.Cells))
	integer := true
	for i, cell := range c.Cells {
		if cell.Missing {
			cells[i] = Cell{Missing: true}
			continue
		}
		v, ok := ParseNumber(cell.Text)
		if !ok {
			return false
		}
		cells[i] = Cell{Num: v}
		if n, err := strconv.ParseInt(cell.Text, 10, 64); err == nil {
			cells[i].Int = n
		} else if wholeFloat(v) {
			cells[i].Int = int64(v)
		} else {
			integer = false
		}
	}

	if !integer {
		for i := range cells {
			cells[i].Int = 0
		}
	}
	c.Cells = cells
	c.Type = ColumnNumeric
	c.Integer = integer
	return true
}

// maxExactInt is the largest magnitude below which every whole float64 is an
// exact integer.
const maxExactInt = 1 << 53

func wholeFloat(v float64) bool {
	return v == math.Trunc(v) && math.Abs(v) <= maxExactInt
}

// numberCell builds a filled cell for column c. A fill that is not a whole
// number turns an integer column into a float column.
func numberCell(c *Column, v float64) Cell {
	if c.Integer {
		if wholeFloat(v) {
			return Cell{Num: v, Int: int64(v)}
		}
		demote(c)
	}
	return Cell{Num: v}
}

func demote(c *Column) {
	c.Integer = false
	for i := range c.Cells {
		c.Cells[i].Int = 0
	}
}

// columnFill returns the median fill for a numeric column. Integer columns use
// an exact integer median when it is whole.
func columnFill(c *Column) (Cell, bool) {
	if c.Integer {
		ints := make([]int64, 0, len(c.Cells))
		for _, cell := range c.Cells {
			if !cell.Missing {
				ints = append(ints, cell.Int)
			}
		}
		if m, whole, ok := medianInt(ints); ok && whole {
			return Cell{Num: float64(m), Int: m}, true
		}
	}
	m, ok := Median(c.Present())
	if !ok {
		return Cell{}, false
	}
	return numberCell(c, m), true
}

// ParseNumber parses a decimal or exponent-form number. Hex literals,
// digit separators, NaN, and infinities are not numbers here.
func ParseNumber(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		switch ch := s[i]; {
		case ch >= '0' && ch <= '9', ch == '.', ch == '+', ch == '-', ch == 'e', ch == 'E':
		default:
			return 0, false
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

func fillByColumn(t Table) int {
	filled := 0
	for ci := range t.Columns {
		c := &t.Columns[ci]
		if c.Type != ColumnNumeric {
			continue
		}
		fill, ok := columnFill(c)
		if !ok {
			continue
		}
		for i := range c.Cells {
			if c.Cells[i].Missing {
				c.Cells[i] = fill
				filled++
			}
		}
	}
	return filled
}

// fillByRow takes the median across each row's numeric columns. A row with
// no present numeric value falls back to the per-column median.
func fillByRow(t Table) int {
	numeric := make([]int, 0, len(t.Columns))
	for i, c := range t.Columns {
		if c.Type == ColumnNumeric {
			numeric = append(numeric, i)
		}
	}
	if len(numeric) == 0 {
		return 0
	}

	// Row medians are taken over the values present before filling.
	present := make(map[int][]bool, len(numeric))
	for _, ci := range numeric {
		mask := make([]bool, t.Rows)
		for r, cell := range t.Columns[ci].Cells {
			mask[r] = !cell.Missing
		}
		present[ci] = mask
	}

	filled := 0
	values := make([]float64, 0, len(numeric))
	for r := 0; r < t.Rows; r++ {
		values = values[:0]
		for _, ci := range numeric {
			if present[ci][r] {
				values = append(values, t.Columns[ci].Cells[r].Num)
			}
		}
		rowMedian, rowOK := Median(values)

		for _, ci := range numeric {
			c := &t.Columns[ci]
			if !c.Cells[r].Missing {
				continue
			}
			if rowOK {
				c.Cells[r] = numberCell(c, rowMedian)
				filled++
				continue
			}
			if fill, ok := columnFillAt(c, present[ci]); ok {
				c.Cells[r] = fill
				filled++
			}
		}
	}
	return filled
}

// columnFillAt is columnFill restricted to the rows marked present.
func columnFillAt(c *Column, present []bool) (Cell, bool) {
	view := Column{Name: c.Name, Type: c.Type, Integer: c.Integer, Cells: make([]Cell, len(c.Cells))}
	for i, cell := range c.Cells {
		if present[i] {
			view.Cells[i] = cell
		} else {
			view.Cells[i] = Cell{Missing: true}
		}
	}
	fill, ok := columnFill(&view)
	if ok && c.Integer && !view.Integer {
		demote(c)
	}
	return fill, ok
}

// Median returns the median of values, averaging the two middle values for an
// even count. ok is false for an empty slice.
func Median(values []float64) (m float64, ok bool) {
	n := len(values)
	if n == 0 {
		return 0, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2], true
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2, true
}

// medianInt is Median over int64 values without going through float64. whole
// is false when the two middle values of an even count average to a fraction.
func medianInt(values []int64) (m int64, whole, ok bool) {
	n := len(values)
	if n == 0 {
		return 0, false, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	if n%2 == 1 {
		return sorted[n/2], true, true
	}
	sum := new(big.Int).Add(big.NewInt(sorted[n/2-1]), big.NewInt(sorted[n/2]))
	if sum.Bit(0) != 0 {
		return 0, false, true
	}
	return sum.Rsh(sum, 1).Int64(), true, true
}
