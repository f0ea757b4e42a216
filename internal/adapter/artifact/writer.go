package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/couchcryptid/open-data-etl/internal/domain"
)

// Format names an artifact file format; it doubles as the file extension.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// ErrUnknownFormat is returned for an unsupported artifact format name.
var ErrUnknownFormat = errors.New("unknown artifact format")

// ErrNameTooLong is returned when an artifact file name would exceed the
// filesystem's per-name limit. Identifiers of long non-ASCII titles can reach
// it because the prefix is capped in runes, not bytes.
var ErrNameTooLong = errors.New("artifact file name too long")

// maxFileNameBytes is the common NAME_MAX of ext4, APFS and NTFS.
const maxFileNameBytes = 255

// ParseFormats validates format names, dropping duplicates and keeping order.
func ParseFormats(names []string) ([]Format, error) {
	var out []Format
	seen := make(map[Format]struct{}, len(names))
	for _, n := range names {
		f := Format(strings.ToLower(strings.TrimSpace(n)))
		if f == "" {
			continue
		}
		if _, err := EncoderFor(f); err != nil {
			return nil, err
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no formats given", ErrUnknownFormat)
	}
	return out, nil
}

// Path returns where the artifact for identifier and format lives under root:
// root/<identifier>/<identifier>.<format>.
func Path(root, identifier string, f Format) string {
	return filepath.Join(root, identifier, identifier+"."+string(f))
}

// Writer persists normalized tables as one file per format.
// It implements pipeline.ArtifactWriter.
type Writer struct {
	root     string
	encoders []Encoder
	logger   *slog.Logger
}

// NewWriter creates a Writer for the given formats. Formats are expected to
// have passed ParseFormats.
func NewWriter(root string, formats []Format, logger *slog.Logger) (*Writer, error) {
	encoders := make([]Encoder, 0, len(formats))
	for _, f := range formats {
		enc, err := EncoderFor(f)
		if err != nil {
			return nil, err
		}
		encoders = append(encoders, enc)
	}
	return &Writer{root: root, encoders: encoders, logger: logger}, nil
}

// Write encodes t in every configured format and replaces any existing
// artifact for identifier. A failure in one format does not stop the others;
// the artifacts that were written are returned with the joined errors.
func (w *Writer) Write(ctx context.Context, identifier string, t domain.Table) ([]domain.Artifact, error) {
	dir := filepath.Join(w.root, identifier)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir %s: %w", dir, err)
	}

	var (
		written []domain.Artifact
		errs    []error
	)
	for _, enc := range w.encoders {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		path := Path(w.root, identifier, enc.Format())
		if name := filepath.Base(path); len(name) > maxFileNameBytes {
			errs = append(errs, fmt.Errorf("write %s artifact: %w: %d bytes", enc.Format(), ErrNameTooLong, len(name)))
			continue
		}
		n, err := writeEncoded(path, enc, t)
		if err != nil {
			errs = append(errs, fmt.Errorf("write %s artifact %s: %w", enc.Format(), path, err))
			continue
		}
		w.logger.Debug("artifact written", "identifier", identifier, "format", enc.Format(), "path", path, "bytes", n)
		written = append(written, domain.Artifact{Format: string(enc.Format()), Path: path, Bytes: n})
	}
	return written, errors.Join(errs...)
}

// writeEncoded encodes into memory, then swaps the file in with a rename so
// readers never see a partially written artifact.
func writeEncoded(path string, enc Encoder, t domain.Table) (int64, error) {
	var buf bytes.Buffer
	if err := enc.Encode(&buf, t); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".artifact-*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, err
	}
	return int64(buf.Len()), nil
}
