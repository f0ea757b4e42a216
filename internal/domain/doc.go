// Package domain models government open-data tables as they move from the
// bronze (raw) layer to the silver (normalized) layer.
//
// # Data Source
//
// Bronze files are JSON or CSV resources pulled from open-data portals by the
// upstream fetch scripts. JSON payloads are either an array of flat objects
// (one object per row) or a single object (one row). Column sets differ from
// row to row and whole columns can be empty, so nothing about the shape of a
// file is trusted until it has been through [Normalize].
//
// # Missing Values
//
// Portals publish missing data in several spellings. After trimming, a cell is
// treated as missing when it is one of (case-insensitive):
//
//	""  "NA"  "N/A"  "null"  "none"
//
// A JSON null or an absent key is missing too. The string "0" and the number 0
// are data, never missing.
//
// # Normalization
//
// [Normalize] applies five whole-table steps in order:
//
//	1. trim       every present cell becomes its trimmed string form
//	2. sentinel   sentinel spellings become missing
//	3. prune      columns missing in every row are dropped
//	4. infer      a column is numeric only if every present cell parses
//	5. impute     missing numeric cells get a median (column or row axis)
//
// A numeric column whose values are all whole int64s is an integer column and
// keeps exact values, so codes above 2^53 survive. A fractional median fill
// turns it into a float column.
//
// String columns are never imputed. Row count and column order are preserved,
// apart from pruned columns. Normalizing a normalized table is a no-op.
//
// # Table Identifiers
//
// Every silver artifact and downstream table is addressed by [TableName]:
//
//	lower-case, " " and "-" → "_", first 80 runes, "_", first 8 hex of md5(cleaned)
//
// The hash covers the full cleaned name, so long dataset titles that share an
// 80-rune prefix still get distinct identifiers. Producers and consumers must
// both call [TableName]; [NamingVersion] changes whenever the rule does.
package domain
