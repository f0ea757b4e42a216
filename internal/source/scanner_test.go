package source

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "tourism", "raw", "fta data.json"), "[]")
	writeFile(t, filepath.Join(root, "tourism", "raw", "NRI.JSON"), "{}")
	writeFile(t, filepath.Join(root, "eco_sensitive_zones_2015", "eco_sensitive_zones_2015.csv"), "a\n1\n")
	writeFile(t, filepath.Join(root, "notes.txt"), "ignored")
	writeFile(t, filepath.Join(root, "top.csv"), "a\n")

	s := NewScanner(root, []string{".json", "csv"}, "_", discardLogger())
	files, err := s.Scan(context.Background())
	require.NoError(t, err)

	got := make(map[string]File, len(files))
	for _, f := range files {
		got[f.Key] = f
	}
	require.Len(t, got, 4)

	assert.Equal(t, FormatJSON, got["tourism_raw_fta data"].Format)
	assert.Equal(t, filepath.Join(root, "tourism", "raw", "fta data.json"), got["tourism_raw_fta data"].Path)
	assert.Equal(t, FormatJSON, got["tourism_raw_NRI"].Format)
	assert.Equal(t, FormatCSV, got["eco_sensitive_zones_2015_eco_sensitive_zones_2015"].Format)
	assert.Equal(t, FormatCSV, got["top"].Format)
}

func TestScanner_CustomSeparator(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a", "b", "c.csv"), "x\n")

	files, err := NewScanner(root, []string{".csv"}, "__", discardLogger()).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a__b__c", files[0].Key)
}

func TestScanner_MissingRootIsEmpty(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "does-not-exist"), []string{".json"}, "_", discardLogger())
	files, err := s.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestScanner_OnlyConfiguredExtensions(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.json"), "[]")
	writeFile(t, filepath.Join(root, "b.csv"), "x\n")

	files, err := NewScanner(root, []string{".csv"}, "_", discardLogger()).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b", files[0].Key)
}

func TestScanner_CancelledContext(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.csv"), "x\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner(root, []string{".csv"}, "_", discardLogger()).Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFormatForExtension(t *testing.T) {
	f, ok := FormatForExtension(".JSON")
	assert.True(t, ok)
	assert.Equal(t, FormatJSON, f)

	f, ok = FormatForExtension("csv")
	assert.True(t, ok)
	assert.Equal(t, FormatCSV, f)

	_, ok = FormatForExtension(".xlsx")
	assert.False(t, ok)
}
