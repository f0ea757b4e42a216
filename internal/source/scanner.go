package source

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Format is the declared format of a bronze file, taken from its extension.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// FormatForExtension maps a file extension (with or without the dot, any
// case) to its Format.
func FormatForExtension(ext string) (Format, bool) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "json":
		return FormatJSON, true
	case "csv":
		return FormatCSV, true
	default:
		return "", false
	}
}

// File is one discovered bronze file.
type File struct {
	// Key is the path relative to the scan root with separators replaced by
	// the scanner's separator and the extension stripped. It is the source
	// name fed to domain.TableName.
	Key    string
	Path   string
	Format Format
}

// Read returns the raw file contents.
func (f File) Read() ([]byte, error) {
	return os.ReadFile(f.Path)
}

// Scanner walks a bronze root for files with configured extensions.
type Scanner struct {
	root       string
	extensions []string
	separator  string
	logger     *slog.Logger
}

// NewScanner creates a Scanner. Extensions are matched case-insensitively.
func NewScanner(root string, extensions []string, separator string, logger *slog.Logger) *Scanner {
	exts := make([]string, 0, len(extensions))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return &Scanner{root: root, extensions: exts, separator: separator, logger: logger}
}

// Scan returns every matching file below the root in lexical path order.
// A missing root yields no files and no error; unreadable subdirectories are
// logged and skipped.
func (s *Scanner) Scan(ctx context.Context) ([]File, error) {
	if _, err := os.Stat(s.root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("bronze root not found, nothing to scan", "root", s.root)
			return nil, nil
		}
		s.logger.Warn("bronze root unreadable, nothing to scan", "root", s.root, "error", err)
		return nil, nil
	}

	var files []File
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			s.logger.Warn("skipping unreadable path", "path", path, "error", err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext, ok := s.match(d.Name())
		if !ok {
			return nil
		}
		format, ok := FormatForExtension(ext)
		if !ok {
			return nil
		}

		key, err := s.key(path, ext)
		if err != nil {
			s.logger.Warn("skipping file outside root", "path", path, "error", err)
			return nil
		}
		files = append(files, File{Key: key, Path: path, Format: format})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// match returns the configured extension that name ends with.
func (s *Scanner) match(name string) (string, bool) {
	lower := strings.ToLower(name)
	for _, ext := range s.extensions {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return ext, true
		}
	}
	return "", false
}

func (s *Scanner) key(path, ext string) (string, error) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	rel = rel[:len(rel)-len(ext)]
	return strings.ReplaceAll(rel, "/", s.separator), nil
}
