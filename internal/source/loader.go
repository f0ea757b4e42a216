package source

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/buger/jsonparser"

	"github.com/couchcryptid/open-data-etl/internal/domain"
)

var (
	// ErrUnsupportedShape is returned for JSON whose top level is neither an
	// array of objects nor an object.
	ErrUnsupportedShape = errors.New("unsupported json shape")
	// ErrUnsupportedFormat is returned for a file format the loader cannot parse.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrEmptyInput is returned for a file with no content or no CSV header.
	ErrEmptyInput = errors.New("empty input")
)

// ParseError reports a bronze file that could not be turned into a table.
type ParseError struct {
	Path   string
	Format Format
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s file %s: %v", e.Format, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Loader parses bronze files into raw tables.
type Loader struct {
	recordsKey string
}

// NewLoader creates a Loader. When recordsKey is non-empty, a top-level JSON
// object holding an array under that key is loaded as the array.
func NewLoader(recordsKey string) *Loader {
	return &Loader{recordsKey: recordsKey}
}

// Load reads and parses a discovered file. Every failure is a *ParseError.
func (l *Loader) Load(f File) (domain.RawTable, error) {
	data, err := f.Read()
	if err != nil {
		return domain.RawTable{}, &ParseError{Path: f.Path, Format: f.Format, Err: err}
	}
	table, err := l.Parse(data, f.Format)
	if err != nil {
		return domain.RawTable{}, &ParseError{Path: f.Path, Format: f.Format, Err: err}
	}
	return table, nil
}

// Parse converts raw bytes in the given format into a table.
func (l *Loader) Parse(data []byte, format Format) (domain.RawTable, error) {
	switch format {
	case FormatJSON:
		return ParseJSON(data, l.recordsKey)
	case FormatCSV:
		return ParseCSV(bytes.NewReader(data))
	default:
		return domain.RawTable{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ParseJSON loads an array of objects (one row each) or a single object (one
// row). Object key order becomes column order.
func ParseJSON(data []byte, recordsKey string) (domain.RawTable, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.RawTable{}, ErrEmptyInput
	}
	var probe json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return domain.RawTable{}, fmt.Errorf("decode json: %w", err)
	}

	value, typ, _, err := jsonparser.Get(data)
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("decode json: %w", err)
	}

	var table domain.RawTable
	switch typ {
	case jsonparser.Array:
		err = appendArray(&table, value)
	case jsonparser.Object:
		if recordsKey != "" {
			if inner, innerTyp, _, getErr := jsonparser.Get(value, recordsKey); getErr == nil && innerTyp == jsonparser.Array {
				err = appendArray(&table, inner)
				break
			}
		}
		err = appendObject(&table, value)
	default:
		err = fmt.Errorf("%w: top-level %s", ErrUnsupportedShape, typ)
	}
	if err != nil {
		return domain.RawTable{}, err
	}
	return table, nil
}

func appendArray(table *domain.RawTable, data []byte) error {
	var (
		index    int
		firstErr error
	)
	_, err := jsonparser.ArrayEach(data, func(value []byte, typ jsonparser.ValueType, _ int, err error) {
		defer func() { index++ }()
		if firstErr != nil {
			return
		}
		if err != nil {
			firstErr = fmt.Errorf("element %d: %w", index, err)
			return
		}
		if typ != jsonparser.Object {
			firstErr = fmt.Errorf("%w: element %d is %s, want object", ErrUnsupportedShape, index, typ)
			return
		}
		if err := appendObject(table, value); err != nil {
			firstErr = fmt.Errorf("element %d: %w", index, err)
		}
	})
	if firstErr != nil {
		return firstErr
	}
	if err != nil {
		return fmt.Errorf("decode json array: %w", err)
	}
	return nil
}

func appendObject(table *domain.RawTable, data []byte) error {
	var keys []string
	row := make(domain.Row)
	// ObjectEach hands over keys already unescaped.
	err := jsonparser.ObjectEach(data, func(rawKey, value []byte, typ jsonparser.ValueType, _ int) error {
		key := string(rawKey)
		scalar, err := toScalar(value, typ)
		if err != nil {
			return fmt.Errorf("decode field %q: %w", key, err)
		}
		if _, dup := row[key]; !dup {
			keys = append(keys, key)
		}
		row[key] = scalar
		return nil
	})
	if err != nil {
		return err
	}
	table.AppendRow(keys, row)
	return nil
}

// toScalar keeps the literal source text. Nested objects and arrays are kept
// as their raw JSON text.
func toScalar(value []byte, typ jsonparser.ValueType) (domain.Scalar, error) {
	switch typ {
	case jsonparser.Null:
		return domain.NullScalar(), nil
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		if err != nil {
			return domain.Scalar{}, err
		}
		return domain.StringScalar(s), nil
	case jsonparser.Number:
		return domain.NumberScalar(string(value)), nil
	case jsonparser.Boolean:
		b, err := jsonparser.ParseBoolean(value)
		if err != nil {
			return domain.Scalar{}, err
		}
		return domain.BoolScalar(b), nil
	case jsonparser.Object, jsonparser.Array:
		return domain.StringScalar(string(value)), nil
	default:
		return domain.Scalar{}, fmt.Errorf("unexpected value type %s", typ)
	}
}

// ParseCSV loads a header row followed by data rows. Short rows leave their
// trailing columns absent; extra trailing fields are ignored. Repeated header
// names are suffixed ".1", ".2", … to keep every column addressable.
func ParseCSV(r io.Reader) (domain.RawTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return domain.RawTable{}, ErrEmptyInput
	}
	if err != nil {
		return domain.RawTable{}, fmt.Errorf("read csv header: %w", err)
	}
	if len(header) > 0 {
		header[0] = string(bytes.TrimPrefix([]byte(header[0]), utf8BOM))
	}
	columns := uniqueHeaders(header)

	table := domain.RawTable{Columns: columns}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.RawTable{}, fmt.Errorf("read csv: %w", err)
		}

		n := min(len(record), len(columns))
		row := make(domain.Row, n)
		for i := 0; i < n; i++ {
			row[columns[i]] = domain.StringScalar(record[i])
		}
		table.AppendRow(columns[:n], row)
	}
	return table, nil
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func uniqueHeaders(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]struct{}, len(header))
	for _, h := range header {
		used[h] = struct{}{}
	}
	counts := make(map[string]int, len(header))
	for i, h := range header {
		n := counts[h]
		counts[h] = n + 1
		if n == 0 {
			out[i] = h
			continue
		}
		name := h + "." + strconv.Itoa(n)
		for {
			if _, taken := used[name]; !taken {
				break
			}
			n++
			name = h + "." + strconv.Itoa(n)
		}
		counts[h] = n + 1
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}
