// Command validate checks a silver tree written by the ETL: artifact layout,
// per-table normalization invariants, agreement between the CSV and Parquet
// artifacts, and, when a catalog is given, that every recorded identifier
// re-derives from its source key.
//
// Usage:
//
//	go run ./cmd/validate -silver data/silver -catalog-dsn data/catalog.db
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/couchcryptid/open-data-etl/internal/adapter/artifact"
	"github.com/couchcryptid/open-data-etl/internal/adapter/catalog"
	"github.com/couchcryptid/open-data-etl/internal/domain"
)

// identifierPattern matches "<cleaned prefix>_<8 hex>".
var identifierPattern = regexp.MustCompile(`^.+_[0-9a-f]{8}$`)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	silver := flag.String("silver", "", "silver root written by the ETL")
	driver := flag.String("catalog-driver", catalog.DriverSQLite, "catalog driver: sqlite or postgres")
	dsn := flag.String("catalog-dsn", "", "catalog DSN; empty skips the catalog phase")
	flag.Parse()

	if *silver == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(context.Background(), os.Stdout, *silver, *driver, *dsn))
}

// table is one artifact directory and what was read from it.
type table struct {
	identifier string
	csv        *csvTable
	parquet    *artifact.Shape
}

type csvTable struct {
	header []string
	rows   [][]string
}

func run(ctx context.Context, out io.Writer, silverRoot, driver, dsn string) int {
	fmt.Fprintln(out, "=== Silver Tree Validation ===")
	fmt.Fprintln(out)

	layout, tables, err := validateLayout(silverRoot)
	if err != nil {
		fmt.Fprintf(out, "FATAL: read silver root: %v\n", err)
		return 1
	}

	phases := []*phase{
		layout,
		validateInvariants(tables),
		validateFormatAgreement(tables),
	}

	if dsn != "" {
		store, err := catalog.Open(ctx, driver, dsn, slog.New(slog.NewTextHandler(io.Discard, nil)))
		if err != nil {
			fmt.Fprintf(out, "FATAL: open catalog: %v\n", err)
			return 1
		}
		defer store.Close()

		manifests, err := store.List(ctx)
		if err != nil {
			fmt.Fprintf(out, "FATAL: list catalog: %v\n", err)
			return 1
		}
		phases = append(phases, validateCatalog(manifests, tables))
	}

	allPassed := true
	for _, p := range phases {
		status := "PASS"
		if !p.passed() {
			status = fmt.Sprintf("FAIL (%d errors)", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(out, "  %-32s %s\n", p.name, status)
	}
	fmt.Fprintf(out, "\nTables: %d\n", len(tables))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(out, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(out, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(out, "\nAll validations passed.")
		return 0
	}
	fmt.Fprintln(out, "\nValidation FAILED.")
	return 1
}

// ── Phase 1: layout ──

func validateLayout(root string) (*phase, []table, error) {
	p := &phase{name: "Artifact layout"}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, err
	}

	var tables []table
	for _, e := range entries {
		if !e.IsDir() {
			p.errorf("%s: stray file at silver root", e.Name())
			continue
		}
		id := e.Name()
		if !identifierPattern.MatchString(id) {
			p.errorf("%s: directory name is not a table identifier", id)
		}

		files, err := os.ReadDir(filepath.Join(root, id))
		if err != nil {
			return nil, nil, err
		}
		t := table{identifier: id}
		for _, f := range files {
			ext := strings.TrimPrefix(filepath.Ext(f.Name()), ".")
			if f.IsDir() || strings.TrimSuffix(f.Name(), "."+ext) != id {
				p.errorf("%s: unexpected entry %s", id, f.Name())
				continue
			}
			path := filepath.Join(root, id, f.Name())
			switch artifact.Format(ext) {
			case artifact.FormatCSV:
				ct, err := readCSV(path)
				if err != nil {
					p.errorf("%s: %v", id, err)
					continue
				}
				t.csv = ct
			case artifact.FormatParquet:
				shape, err := artifact.Inspect(path)
				if err != nil {
					p.errorf("%s: %v", id, err)
					continue
				}
				t.parquet = &shape
			default:
				p.errorf("%s: unknown artifact format %q", id, ext)
			}
		}
		if t.csv == nil && t.parquet == nil {
			p.errorf("%s: no artifacts", id)
		}
		tables = append(tables, t)
	}
	return p, tables, nil
}

func readCSV(path string) (*csvTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	all, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("%s: missing header", path)
	}
	return &csvTable{header: all[0], rows: all[1:]}, nil
}

// ── Phase 2: normalization invariants ──

func validateInvariants(tables []table) *phase {
	p := &phase{name: "Normalization invariants"}
	for _, t := range tables {
		if t.csv == nil {
			continue
		}
		if len(t.csv.header) == 0 {
			p.errorf("%s: no columns", t.identifier)
			continue
		}
		for c, name := range t.csv.header {
			var present, numeric, empty int
			for _, row := range t.csv.rows {
				if c >= len(row) || row[c] == "" {
					empty++
					continue
				}
				present++
				if _, ok := domain.ParseNumber(row[c]); ok {
					numeric++
				}
			}
			switch {
			case present == 0:
				p.errorf("%s: column %q is entirely missing", t.identifier, name)
			case numeric == present && empty > 0:
				p.errorf("%s: numeric column %q has %d unfilled cells", t.identifier, name, empty)
			}
		}
	}
	return p
}

// ── Phase 3: CSV and Parquet agree ──

func validateFormatAgreement(tables []table) *phase {
	p := &phase{name: "CSV/Parquet agreement"}
	for _, t := range tables {
		if t.csv == nil || t.parquet == nil {
			continue
		}
		if !slices.Equal(t.csv.header, t.parquet.Columns) {
			p.errorf("%s: csv columns %v, parquet columns %v", t.identifier, t.csv.header, t.parquet.Columns)
		}
		if int64(len(t.csv.rows)) != t.parquet.Rows {
			p.errorf("%s: csv has %d rows, parquet has %d", t.identifier, len(t.csv.rows), t.parquet.Rows)
		}
	}
	return p
}

// ── Phase 4: catalog ──

func validateCatalog(manifests []domain.TableManifest, tables []table) *phase {
	p := &phase{name: "Catalog agreement"}

	onDisk := make(map[string]table, len(tables))
	for _, t := range tables {
		onDisk[t.identifier] = t
	}
	recorded := make(map[string]struct{}, len(manifests))

	for _, m := range manifests {
		recorded[m.Identifier] = struct{}{}
		if got := domain.TableName(m.SourceKey); got != m.Identifier {
			p.errorf("%s: source key %q derives %s", m.Identifier, m.SourceKey, got)
		}
		if m.NamingVersion != domain.NamingVersion {
			p.errorf("%s: naming version %d, current is %d", m.Identifier, m.NamingVersion, domain.NamingVersion)
		}
		t, ok := onDisk[m.Identifier]
		if !ok {
			p.errorf("%s: recorded but no artifact directory", m.Identifier)
			continue
		}
		if t.csv != nil && len(t.csv.rows) != m.Rows {
			p.errorf("%s: catalog says %d rows, csv has %d", m.Identifier, m.Rows, len(t.csv.rows))
		}
	}

	var missing []string
	for id := range onDisk {
		if _, ok := recorded[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		p.errorf("%s: artifact directory not in catalog", id)
	}
	return p
}
