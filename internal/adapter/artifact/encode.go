package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow/go/v10/arrow"
	"github.com/apache/arrow/go/v10/arrow/array"
	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet"
	"github.com/apache/arrow/go/v10/parquet/compress"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"

	"github.com/couchcryptid/open-data-etl/internal/domain"
)

// ErrNoColumns is returned when asked to encode a table without columns.
var ErrNoColumns = errors.New("table has no columns")

// Encoder serializes a normalized table into one artifact format.
type Encoder interface {
	Format() Format
	Encode(w io.Writer, t domain.Table) error
}

// EncoderFor returns the encoder for a format.
func EncoderFor(f Format) (Encoder, error) {
	switch f {
	case FormatCSV:
		return csvEncoder{}, nil
	case FormatParquet:
		return parquetEncoder{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

// csvEncoder writes a header row then one line per row. Missing cells are
// empty fields; numbers use domain.FormatNumber.
type csvEncoder struct{}

func (csvEncoder) Format() Format { return FormatCSV }

func (csvEncoder) Encode(w io.Writer, t domain.Table) error {
	if len(t.Columns) == 0 {
		return ErrNoColumns
	}
	cw := csv.NewWriter(w)

	record := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		record[i] = c.Name
	}
	if err := cw.Write(record); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for r := 0; r < t.Rows; r++ {
		for i, c := range t.Columns {
			record[i] = c.Format(r)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", r, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// parquetEncoder writes one snappy-compressed row group of nullable columns.
// Integer columns are int64 and string columns UTF-8; other numeric columns
// are float64.
type parquetEncoder struct{}

func (parquetEncoder) Format() Format { return FormatParquet }

func (parquetEncoder) Encode(w io.Writer, t domain.Table) error {
	if len(t.Columns) == 0 {
		return ErrNoColumns
	}
	mem := memory.NewGoAllocator()

	fields := make([]arrow.Field, len(t.Columns))
	arrays := make([]arrow.Array, len(t.Columns))
	defer func() {
		for _, a := range arrays {
			if a != nil {
				a.Release()
			}
		}
	}()

	for i, c := range t.Columns {
		fields[i], arrays[i] = buildArrowColumn(mem, c)
	}

	schema := arrow.NewSchema(fields, nil)
	rec := array.NewRecord(schema, arrays, int64(t.Rows))
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithCreatedBy("open-data-etl"),
	)
	fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("write parquet record: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func buildArrowColumn(mem memory.Allocator, c domain.Column) (arrow.Field, arrow.Array) {
	if c.Integer {
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(len(c.Cells))
		for _, cell := range c.Cells {
			if cell.Missing {
				b.AppendNull()
				continue
			}
			b.Append(cell.Int)
		}
		return arrow.Field{Name: c.Name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}, b.NewArray()
	}
	if c.Type == domain.ColumnNumeric {
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Reserve(len(c.Cells))
		for _, cell := range c.Cells {
			if cell.Missing {
				b.AppendNull()
				continue
			}
			b.Append(cell.Num)
		}
		return arrow.Field{Name: c.Name, Type: arrow.PrimitiveTypes.Float64, Nullable: true}, b.NewArray()
	}

	b := array.NewStringBuilder(mem)
	defer b.Release()
	b.Reserve(len(c.Cells))
	for _, cell := range c.Cells {
		if cell.Missing {
			b.AppendNull()
			continue
		}
		b.Append(cell.Text)
	}
	return arrow.Field{Name: c.Name, Type: arrow.BinaryTypes.String, Nullable: true}, b.NewArray()
}
