package domain

import (
	"errors"
	"time"
)

// ErrTableNotFound is returned by catalog lookups for an unknown identifier.
var ErrTableNotFound = errors.New("table not found")

// ColumnSchema is the name and inferred type of one silver column.
type ColumnSchema struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	Integer bool       `json:"integer,omitempty"`
}

// Artifact is one persisted file for a table.
type Artifact struct {
	Format string `json:"format"`
	Path   string `json:"path"`
	Bytes  int64  `json:"bytes"`
}

// TableManifest describes a silver table written by a pipeline run. Consumers
// address it by Identifier only.
type TableManifest struct {
	RunID          string         `json:"run_id"`
	SourceKey      string         `json:"source_key"`
	SourcePath     string         `json:"source_path"`
	Identifier     string         `json:"identifier"`
	NamingVersion  int            `json:"naming_version"`
	FillAxis       FillAxis       `json:"fill_axis"`
	Rows           int            `json:"rows"`
	Columns        []ColumnSchema `json:"columns"`
	DroppedColumns []string       `json:"dropped_columns,omitempty"`
	ImputedCells   int            `json:"imputed_cells"`
	Artifacts      []Artifact     `json:"artifacts"`
	WrittenAt      time.Time      `json:"written_at"`
}
