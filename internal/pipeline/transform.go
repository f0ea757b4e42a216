package pipeline

import (
	"github.com/couchcryptid/open-data-etl/internal/domain"
)

// TableTransformer implements Transformer. Tables listed as row-axis are
// filled along rows; every other table uses the column axis.
type TableTransformer struct {
	rowAxis map[string]struct{}
}

// NewTransformer creates a TableTransformer. Entries of rowAxisTables match
// either a source key or a table identifier.
func NewTransformer(rowAxisTables []string) *TableTransformer {
	rowAxis := make(map[string]struct{}, len(rowAxisTables))
	for _, name := range rowAxisTables {
		rowAxis[name] = struct{}{}
	}
	return &TableTransformer{rowAxis: rowAxis}
}

// AxisFor returns the fill axis configured for a table.
func (t *TableTransformer) AxisFor(sourceKey, identifier string) domain.FillAxis {
	if _, ok := t.rowAxis[sourceKey]; ok {
		return domain.FillByRow
	}
	if _, ok := t.rowAxis[identifier]; ok {
		return domain.FillByRow
	}
	return domain.FillByColumn
}

func (t *TableTransformer) Transform(sourceKey, identifier string, raw domain.RawTable) (domain.Table, domain.NormalizeReport) {
	return domain.Normalize(raw, t.AxisFor(sourceKey, identifier))
}
