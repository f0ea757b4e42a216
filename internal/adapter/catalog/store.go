// Package catalog records written silver tables in a SQL database so
// consumers can look a table up by identifier or by its source name.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/couchcryptid/open-data-etl/internal/domain"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver is returned by Open for a driver it does not support.
var ErrUnknownDriver = errors.New("unknown catalog driver")

// Store is a table catalog backed by SQLite or Postgres.
// It implements pipeline.ManifestSink.
type Store struct {
	db       *sql.DB
	postgres bool
	logger   *slog.Logger
}

// Open connects to the catalog database and applies migrations.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		if dir := filepath.Dir(dsn); dir != "." && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create catalog directory: %w", err)
			}
		}
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	s := &Store{db: db, postgres: driver == DriverPostgres, logger: logger}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog: %w", err)
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS silver_tables (
			identifier TEXT PRIMARY KEY,
			source_key TEXT NOT NULL,
			naming_version INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			row_count INTEGER NOT NULL,
			manifest TEXT NOT NULL,
			written_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_silver_tables_source ON silver_tables(source_key)`,
	}
	for _, m := range migrations {
		if _, err := s.db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

const upsertTable = `INSERT INTO silver_tables
	(identifier, source_key, naming_version, run_id, row_count, manifest, written_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (identifier) DO UPDATE SET
		source_key = excluded.source_key,
		naming_version = excluded.naming_version,
		run_id = excluded.run_id,
		row_count = excluded.row_count,
		manifest = excluded.manifest,
		written_at = excluded.written_at`

// RecordTables upserts one row per manifest in a single transaction.
func (s *Store) RecordTables(ctx context.Context, manifests []domain.TableManifest) error {
	if len(manifests) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, s.rebind(upsertTable))
	if err != nil {
		return fmt.Errorf("prepare catalog upsert: %w", err)
	}
	defer stmt.Close()

	for i := range manifests {
		m := &manifests[i]
		body, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal manifest %s: %w", m.Identifier, err)
		}
		if _, err := stmt.ExecContext(ctx,
			m.Identifier, m.SourceKey, m.NamingVersion, m.RunID, m.Rows,
			string(body), m.WrittenAt.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("upsert table %s: %w", m.Identifier, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog tx: %w", err)
	}
	s.logger.Debug("catalog updated", "tables", len(manifests))
	return nil
}

// Get returns the manifest of the table with the given identifier.
func (s *Store) Get(ctx context.Context, identifier string) (domain.TableManifest, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT manifest FROM silver_tables WHERE identifier = ?`), identifier,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TableManifest{}, fmt.Errorf("%w: %s", domain.ErrTableNotFound, identifier)
	}
	if err != nil {
		return domain.TableManifest{}, fmt.Errorf("query table %s: %w", identifier, err)
	}
	return decodeManifest(body)
}

// GetBySource resolves a source name to its identifier and returns that
// table's manifest.
func (s *Store) GetBySource(ctx context.Context, sourceName string) (domain.TableManifest, error) {
	return s.Get(ctx, domain.TableName(sourceName))
}

// List returns every recorded table ordered by identifier.
func (s *Store) List(ctx context.Context) ([]domain.TableManifest, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT manifest FROM silver_tables ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var out []domain.TableManifest
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		m, err := decodeManifest(body)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func decodeManifest(body string) (domain.TableManifest, error) {
	var m domain.TableManifest
	if err := json.Unmarshal([]byte(body), &m); err != nil {
		return domain.TableManifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}

// rebind rewrites ? placeholders as $1, $2, … for Postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
