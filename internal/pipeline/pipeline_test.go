package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/open-data-etl/internal/adapter/artifact"
	"github.com/couchcryptid/open-data-etl/internal/domain"
	"github.com/couchcryptid/open-data-etl/internal/observability"
	"github.com/couchcryptid/open-data-etl/internal/pipeline"
	"github.com/couchcryptid/open-data-etl/internal/source"
)

// --- fakes ---

type recordingSink struct {
	mu        sync.Mutex
	manifests []domain.TableManifest
	err       error
}

func (s *recordingSink) RecordTables(_ context.Context, manifests []domain.TableManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.manifests = append(s.manifests, manifests...)
	return nil
}

type failingWriter struct {
	failFor string
	next    pipeline.ArtifactWriter
}

func (w *failingWriter) Write(ctx context.Context, id string, t domain.Table) ([]domain.Artifact, error) {
	if id == w.failFor {
		return nil, errors.New("disk full")
	}
	return w.next.Write(ctx, id, t)
}

type staticScanner struct {
	files []source.File
	err   error
}

func (s staticScanner) Scan(context.Context) ([]source.File, error) { return s.files, s.err }

type blockingLoader struct {
	started chan struct{}
	release chan struct{}
}

func (l *blockingLoader) Load(source.File) (domain.RawTable, error) {
	close(l.started)
	<-l.release
	return domain.RawTable{}, nil
}

type countingLoader struct {
	inFlight, peak atomic.Int32
	next           pipeline.Loader
}

func (l *countingLoader) Load(f source.File) (domain.RawTable, error) {
	n := l.inFlight.Add(1)
	defer l.inFlight.Add(-1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return l.next.Load(f)
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

type fixture struct {
	bronze, silver string
	metrics        *observability.Metrics
	writer         *artifact.Writer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dir := t.TempDir()
	f := fixture{
		bronze:  filepath.Join(dir, "bronze"),
		silver:  filepath.Join(dir, "silver"),
		metrics: observability.NewMetricsForTesting(),
	}
	w, err := artifact.NewWriter(f.silver, []artifact.Format{artifact.FormatCSV, artifact.FormatParquet}, discardLogger())
	require.NoError(t, err)
	f.writer = w
	return f
}

func (f fixture) scanner() *source.Scanner {
	return source.NewScanner(f.bronze, []string{".json", ".csv"}, "_", discardLogger())
}

func (f fixture) pipeline(rowAxis []string, workers int) *pipeline.Pipeline {
	return pipeline.New(f.scanner(), source.NewLoader(""), pipeline.NewTransformer(rowAxis), f.writer, discardLogger(), f.metrics, workers)
}

func freezeClock(t *testing.T) time.Time {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(now))
	t.Cleanup(func() { domain.SetClock(nil) })
	return now
}

// --- tests ---

func TestPipeline_Run_EndToEnd(t *testing.T) {
	now := freezeClock(t)
	f := newFixture(t)
	writeFile(t, filepath.Join(f.bronze, "visitors.csv"), "year,value\n2019,\"NA\"\n2020,50\n2021,\"\"\n")
	writeFile(t, filepath.Join(f.bronze, "zones", "states.json"),
		`[{"state": "Goa", "flag": "yes", "blank": ""}, {"state": "Kerala", "flag": "", "blank": "NA"}, {"state": "Sikkim", "flag": "no"}]`)

	sink := &recordingSink{}
	p := f.pipeline(nil, 1)
	p.AddSink("test", sink)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, summary.RunID)
	assert.Equal(t, 2, summary.Discovered)
	assert.Equal(t, 2, summary.Written)
	assert.Zero(t, summary.ParseFailures)
	assert.Zero(t, summary.WriteFailures)
	assert.Equal(t, now, summary.Started)
	assert.Equal(t, now, summary.Finished)

	visitorsID := domain.TableName("visitors")
	data, err := os.ReadFile(filepath.Join(f.silver, visitorsID, visitorsID+".csv"))
	require.NoError(t, err)
	assert.Equal(t, "year,value\n2019,50\n2020,50\n2021,50\n", string(data))

	statesID := domain.TableName("zones_states")
	data, err = os.ReadFile(filepath.Join(f.silver, statesID, statesID+".csv"))
	require.NoError(t, err)
	assert.Equal(t, "state,flag\nGoa,yes\nKerala,\nSikkim,no\n", string(data))

	shape, err := artifact.Inspect(filepath.Join(f.silver, statesID, statesID+".parquet"))
	require.NoError(t, err)
	assert.Equal(t, []string{"state", "flag"}, shape.Columns)
	assert.Equal(t, int64(3), shape.Rows)

	require.Len(t, sink.manifests, 2)
	byID := map[string]domain.TableManifest{}
	for _, m := range sink.manifests {
		byID[m.Identifier] = m
	}
	visitors := byID[visitorsID]
	assert.Equal(t, summary.RunID, visitors.RunID)
	assert.Equal(t, "visitors", visitors.SourceKey)
	assert.Equal(t, domain.NamingVersion, visitors.NamingVersion)
	assert.Equal(t, domain.FillByColumn, visitors.FillAxis)
	assert.Equal(t, 3, visitors.Rows)
	assert.Equal(t, 2, visitors.ImputedCells)
	assert.Equal(t, now, visitors.WrittenAt)
	assert.Equal(t, []domain.ColumnSchema{
		{Name: "year", Type: domain.ColumnNumeric, Integer: true},
		{Name: "value", Type: domain.ColumnNumeric, Integer: true},
	}, visitors.Columns)
	assert.Len(t, visitors.Artifacts, 2)

	states := byID[statesID]
	assert.Equal(t, []string{"blank"}, states.DroppedColumns)
	assert.Zero(t, states.ImputedCells)

	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.FilesDiscovered), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.TablesWritten), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ColumnsDropped), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.CellsImputed.WithLabelValues("column")), 0)

	require.NoError(t, p.CheckReadiness(context.Background()))
	last, ok := p.LastRun()
	require.True(t, ok)
	assert.Equal(t, summary.RunID, last.RunID)
}

func TestPipeline_Run_ParseFailureDoesNotAbort(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.bronze, "broken.json"), `[{"a": 1}`)
	writeFile(t, filepath.Join(f.bronze, "scalar.json"), `"just a string"`)
	writeFile(t, filepath.Join(f.bronze, "good.csv"), "a\n1\n")

	summary, err := f.pipeline(nil, 1).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Discovered)
	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 2, summary.ParseFailures)
	require.Len(t, summary.Errors, 2)
	for _, e := range summary.Errors {
		assert.Equal(t, pipeline.StageLoad, e.Stage)
		var perr *source.ParseError
		assert.ErrorAs(t, e, &perr)
	}
	assert.InDelta(t, 2, testutil.ToFloat64(f.metrics.ParseErrors), 0)

	_, err = os.Stat(filepath.Join(f.silver, domain.TableName("good")))
	assert.NoError(t, err)
}

func TestPipeline_Run_WriteFailureIsolatedToTable(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.bronze, "a.csv"), "x\n1\n")
	writeFile(t, filepath.Join(f.bronze, "b.csv"), "x\n2\n")

	sink := &recordingSink{}
	w := &failingWriter{failFor: domain.TableName("a"), next: f.writer}
	p := pipeline.New(f.scanner(), source.NewLoader(""), pipeline.NewTransformer(nil), w, discardLogger(), f.metrics, 1)
	p.AddSink("test", sink)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 1, summary.WriteFailures)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, pipeline.StageWrite, summary.Errors[0].Stage)
	assert.Equal(t, "a", summary.Errors[0].SourceKey)

	require.Len(t, sink.manifests, 1)
	assert.Equal(t, "b", sink.manifests[0].SourceKey)
}

func TestPipeline_Run_SinkFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.bronze, "a.csv"), "x\n1\n")

	good := &recordingSink{}
	p := f.pipeline(nil, 1)
	p.AddSink("broken", &recordingSink{err: errors.New("connection refused")})
	p.AddSink("good", good)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 1, summary.RecordFailures)
	assert.Len(t, good.manifests, 1)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.SinkErrors.WithLabelValues("broken")), 0)
}

func TestPipeline_Run_IdentifierCollision(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.bronze, "fta data.csv"), "x\n1\n")
	writeFile(t, filepath.Join(f.bronze, "fta_data.csv"), "x\n2\n")

	summary, err := f.pipeline(nil, 1).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Discovered)
	assert.Equal(t, 1, summary.Written)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, summary.Manifests, 1)
	assert.Equal(t, "fta data", summary.Manifests[0].SourceKey, "lexically first key wins")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.TablesSkipped.WithLabelValues("collision")), 0)
}

func TestPipeline_Run_AllMissingTableSkipped(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.bronze, "empty.csv"), "a,b\nNA,\n,null\n")

	summary, err := f.pipeline(nil, 1).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Written)
	assert.Equal(t, 1, summary.Skipped)
	assert.Empty(t, summary.Errors)

	_, err = os.Stat(filepath.Join(f.silver, domain.TableName("empty")))
	assert.True(t, os.IsNotExist(err))
}

func TestPipeline_Run_RowAxisTable(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.bronze, "readings.csv"), "r1,r2,r3\n1,,3\n10,20,\n")

	summary, err := f.pipeline([]string{"readings"}, 1).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Manifests, 1)
	assert.Equal(t, domain.FillByRow, summary.Manifests[0].FillAxis)

	id := domain.TableName("readings")
	data, err := os.ReadFile(filepath.Join(f.silver, id, id+".csv"))
	require.NoError(t, err)
	assert.Equal(t, "r1,r2,r3\n1,2,3\n10,20,15\n", string(data))
}

func TestPipeline_Run_MissingRootIsEmptyRun(t *testing.T) {
	f := newFixture(t)

	p := f.pipeline(nil, 1)
	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Discovered)
	assert.Zero(t, summary.Written)
	assert.NoError(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_ScanError(t *testing.T) {
	f := newFixture(t)
	p := pipeline.New(staticScanner{err: errors.New("permission denied")}, source.NewLoader(""), pipeline.NewTransformer(nil), f.writer, discardLogger(), f.metrics, 1)

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan bronze files")
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_RejectsOverlappingRuns(t *testing.T) {
	f := newFixture(t)
	loader := &blockingLoader{started: make(chan struct{}), release: make(chan struct{})}
	files := []source.File{{Key: "a", Path: "a.csv", Format: source.FormatCSV}}
	p := pipeline.New(staticScanner{files: files}, loader, pipeline.NewTransformer(nil), f.writer, discardLogger(), f.metrics, 1)

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background())
		done <- err
	}()

	<-loader.started
	_, err := p.Run(context.Background())
	require.ErrorIs(t, err, pipeline.ErrRunInProgress)

	close(loader.release)
	require.NoError(t, <-done)
}

func TestPipeline_Run_WorkersBoundConcurrency(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		writeFile(t, filepath.Join(f.bronze, name+".csv"), "x\n1\n")
	}

	loader := &countingLoader{next: source.NewLoader("")}
	p := pipeline.New(f.scanner(), loader, pipeline.NewTransformer(nil), f.writer, discardLogger(), f.metrics, 2)

	summary, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Written)
	assert.LessOrEqual(t, loader.peak.Load(), int32(2))
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	f := newFixture(t)
	writeFile(t, filepath.Join(f.bronze, "a.csv"), "x\n1\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.pipeline(nil, 1).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPipeline_CheckReadiness_BeforeRun(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(nil, 1)

	assert.Error(t, p.CheckReadiness(context.Background()))
	_, ok := p.LastRun()
	assert.False(t, ok)
}

func TestTransformer_AxisFor(t *testing.T) {
	tfm := pipeline.NewTransformer([]string{"readings", domain.TableName("other table")})

	assert.Equal(t, domain.FillByRow, tfm.AxisFor("readings", domain.TableName("readings")))
	assert.Equal(t, domain.FillByRow, tfm.AxisFor("other table", domain.TableName("other table")))
	assert.Equal(t, domain.FillByColumn, tfm.AxisFor("visitors", domain.TableName("visitors")))
}
