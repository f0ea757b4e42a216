package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v10/arrow/memory"
	"github.com/apache/arrow/go/v10/parquet/file"
	"github.com/apache/arrow/go/v10/parquet/pqarrow"
)

// Shape is the column list and row count read back from an artifact.
type Shape struct {
	Columns []string
	Rows    int64
}

// Inspect reads the shape of an artifact file, choosing the decoder from the
// file extension.
func Inspect(path string) (Shape, error) {
	switch Format(strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")) {
	case FormatCSV:
		return inspectCSV(path)
	case FormatParquet:
		return inspectParquet(path)
	default:
		return Shape{}, fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

func inspectCSV(path string) (Shape, error) {
	f, err := os.Open(path)
	if err != nil {
		return Shape{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return Shape{}, fmt.Errorf("read csv header %s: %w", path, err)
	}
	shape := Shape{Columns: header}
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Shape{}, fmt.Errorf("read csv %s: %w", path, err)
		}
		shape.Rows++
	}
	return shape, nil
}

func inspectParquet(path string) (Shape, error) {
	pf, err := file.OpenParquetFile(path, false)
	if err != nil {
		return Shape{}, fmt.Errorf("open parquet %s: %w", path, err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, memory.NewGoAllocator())
	if err != nil {
		return Shape{}, fmt.Errorf("read parquet %s: %w", path, err)
	}
	schema, err := fr.Schema()
	if err != nil {
		return Shape{}, fmt.Errorf("read parquet schema %s: %w", path, err)
	}

	shape := Shape{Rows: pf.NumRows()}
	for _, field := range schema.Fields() {
		shape.Columns = append(shape.Columns, field.Name)
	}
	return shape, nil
}
