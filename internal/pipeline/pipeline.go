package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/open-data-etl/internal/domain"
	"github.com/couchcryptid/open-data-etl/internal/observability"
	"github.com/couchcryptid/open-data-etl/internal/source"
)

// ErrRunInProgress is returned by Run when another run has not finished yet.
var ErrRunInProgress = errors.New("pipeline run already in progress")

// Scanner discovers bronze files.
type Scanner interface {
	Scan(ctx context.Context) ([]source.File, error)
}

// Loader parses one bronze file into a raw table.
type Loader interface {
	Load(f source.File) (domain.RawTable, error)
}

// Transformer normalizes a raw table, choosing the fill axis for it.
type Transformer interface {
	Transform(sourceKey, identifier string, raw domain.RawTable) (domain.Table, domain.NormalizeReport)
}

// ArtifactWriter persists a normalized table under its identifier.
type ArtifactWriter interface {
	Write(ctx context.Context, identifier string, t domain.Table) ([]domain.Artifact, error)
}

// ManifestSink records the tables written by a run.
type ManifestSink interface {
	RecordTables(ctx context.Context, manifests []domain.TableManifest) error
}

// Stage names where a per-table failure happened.
type Stage string

const (
	StageLoad   Stage = "load"
	StageWrite  Stage = "write"
	StageRecord Stage = "record"
)

// TableError is a failure confined to one table. The run carries on.
// For StageRecord, SourceKey holds the sink name.
type TableError struct {
	Stage     Stage
	SourceKey string
	Err       error
}

func (e *TableError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.SourceKey, e.Err)
}

func (e *TableError) Unwrap() error { return e.Err }

// RunSummary reports the outcome of one bronze to silver run.
type RunSummary struct {
	RunID          string                 `json:"run_id"`
	Discovered     int                    `json:"discovered"`
	Written        int                    `json:"written"`
	Skipped        int                    `json:"skipped"`
	ParseFailures  int                    `json:"parse_failures"`
	WriteFailures  int                    `json:"write_failures"`
	RecordFailures int                    `json:"record_failures"`
	Errors         []*TableError          `json:"-"`
	Manifests      []domain.TableManifest `json:"-"`
	Started        time.Time              `json:"started"`
	Finished       time.Time              `json:"finished"`
}

type namedSink struct {
	name string
	sink ManifestSink
}

// Pipeline runs scan, load, normalize and write over a bronze tree.
type Pipeline struct {
	scanner     Scanner
	loader      Loader
	transformer Transformer
	writer      ArtifactWriter
	sinks       []namedSink
	logger      *slog.Logger
	metrics     *observability.Metrics
	workers     int

	running atomic.Bool
	ready   atomic.Bool

	mu      sync.RWMutex
	lastRun RunSummary
}

// New creates a Pipeline. workers below 1 is treated as 1.
func New(s Scanner, l Loader, t Transformer, w ArtifactWriter, logger *slog.Logger, metrics *observability.Metrics, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{
		scanner:     s,
		loader:      l,
		transformer: t,
		writer:      w,
		logger:      logger,
		metrics:     metrics,
		workers:     workers,
	}
}

// AddSink registers a sink that receives the manifests of every run. name
// labels the sink in logs and metrics.
func (p *Pipeline) AddSink(name string, sink ManifestSink) {
	p.sinks = append(p.sinks, namedSink{name: name, sink: sink})
}

// CheckReadiness returns nil once a run has completed.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// LastRun returns the summary of the most recent completed run.
func (p *Pipeline) LastRun() (RunSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastRun, p.ready.Load()
}

type job struct {
	file       source.File
	identifier string
}

type result struct {
	manifest *domain.TableManifest
	err      *TableError
	skipped  bool
}

// Run processes every discovered bronze file once. Failures of a single table
// are logged and counted; only a scan failure or cancellation fails the run.
func (p *Pipeline) Run(ctx context.Context) (RunSummary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	summary := RunSummary{RunID: uuid.NewString(), Started: domain.Now()}
	logger := p.logger.With("run_id", summary.RunID)
	logger.Info("pipeline run started", "workers", p.workers)

	files, err := p.scanner.Scan(ctx)
	if err != nil {
		return summary, fmt.Errorf("scan bronze files: %w", err)
	}
	summary.Discovered = len(files)
	p.metrics.FilesDiscovered.Add(float64(len(files)))

	jobs := p.plan(files, logger)
	summary.Skipped = len(files) - len(jobs)

	results := make([]result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = p.processTable(gctx, summary.RunID, j, logger)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch {
		case r.skipped:
			summary.Skipped++
		case r.err != nil:
			summary.Errors = append(summary.Errors, r.err)
			if r.err.Stage == StageLoad {
				summary.ParseFailures++
			} else {
				summary.WriteFailures++
			}
		case r.manifest != nil:
			summary.Manifests = append(summary.Manifests, *r.manifest)
		}
	}
	summary.Written = len(summary.Manifests)

	if err := ctx.Err(); err != nil {
		summary.Finished = domain.Now()
		logger.Warn("pipeline run cancelled", "written", summary.Written)
		return summary, err
	}

	p.record(ctx, &summary, logger)

	summary.Finished = domain.Now()
	elapsed := summary.Finished.Sub(summary.Started)
	p.metrics.RunDuration.Observe(elapsed.Seconds())
	p.metrics.LastRunTimestamp.Set(float64(summary.Finished.Unix()))

	p.mu.Lock()
	p.lastRun = summary
	p.mu.Unlock()
	p.ready.Store(true)

	logger.Info("pipeline run finished",
		"discovered", summary.Discovered,
		"written", summary.Written,
		"skipped", summary.Skipped,
		"parse_failures", summary.ParseFailures,
		"write_failures", summary.WriteFailures,
		"record_failures", summary.RecordFailures,
		"duration", elapsed,
	)
	return summary, nil
}

// plan derives identifiers and drops files whose identifier is already
// claimed by a lexically smaller source key, so one run never writes two
// tables to the same artifact directory.
func (p *Pipeline) plan(files []source.File, logger *slog.Logger) []job {
	sorted := append([]source.File(nil), files...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	owner := make(map[string]string, len(sorted))
	jobs := make([]job, 0, len(sorted))
	for _, f := range sorted {
		id := domain.TableName(f.Key)
		if prev, taken := owner[id]; taken {
			logger.Warn("identifier collision, skipping source",
				"identifier", id, "source_key", f.Key, "kept_source_key", prev, "path", f.Path)
			p.metrics.TablesSkipped.WithLabelValues("collision").Inc()
			continue
		}
		owner[id] = f.Key
		jobs = append(jobs, job{file: f, identifier: id})
	}
	return jobs
}

func (p *Pipeline) processTable(ctx context.Context, runID string, j job, logger *slog.Logger) result {
	f := j.file
	logger = logger.With("source_key", f.Key, "identifier", j.identifier)

	raw, err := p.loader.Load(f)
	if err != nil {
		logger.Warn("load failed, skipping file", "path", f.Path, "error", err)
		p.metrics.ParseErrors.Inc()
		return result{err: &TableError{Stage: StageLoad, SourceKey: f.Key, Err: err}}
	}

	table, report := p.transformer.Transform(f.Key, j.identifier, raw)
	p.metrics.ColumnsDropped.Add(float64(len(report.DroppedColumns)))
	p.metrics.CellsImputed.WithLabelValues(string(report.Axis)).Add(float64(report.ImputedCells))

	if len(table.Columns) == 0 {
		logger.Info("table has no columns after normalization, skipping", "path", f.Path, "rows", table.Rows)
		p.metrics.TablesSkipped.WithLabelValues("no_columns").Inc()
		return result{skipped: true}
	}

	artifacts, err := p.writer.Write(ctx, j.identifier, table)
	for _, a := range artifacts {
		p.metrics.ArtifactBytes.WithLabelValues(a.Format).Add(float64(a.Bytes))
	}
	if err != nil {
		logger.Error("write failed", "path", f.Path, "error", err)
		p.metrics.WriteErrors.Inc()
		return result{err: &TableError{Stage: StageWrite, SourceKey: f.Key, Err: err}}
	}
	p.metrics.TablesWritten.Inc()

	logger.Debug("table written",
		"rows", table.Rows,
		"columns", len(table.Columns),
		"dropped_columns", len(report.DroppedColumns),
		"imputed_cells", report.ImputedCells,
		"fill_axis", report.Axis,
	)

	return result{manifest: &domain.TableManifest{
		RunID:          runID,
		SourceKey:      f.Key,
		SourcePath:     f.Path,
		Identifier:     j.identifier,
		NamingVersion:  domain.NamingVersion,
		FillAxis:       report.Axis,
		Rows:           table.Rows,
		Columns:        table.Schema(),
		DroppedColumns: report.DroppedColumns,
		ImputedCells:   report.ImputedCells,
		Artifacts:      artifacts,
		WrittenAt:      domain.Now(),
	}}
}

// record hands the run's manifests to every sink. A failing sink does not
// affect the artifacts already written or the other sinks.
func (p *Pipeline) record(ctx context.Context, summary *RunSummary, logger *slog.Logger) {
	if len(summary.Manifests) == 0 {
		return
	}
	for _, s := range p.sinks {
		if err := s.sink.RecordTables(ctx, summary.Manifests); err != nil {
			logger.Error("record tables failed", "sink", s.name, "tables", len(summary.Manifests), "error", err)
			p.metrics.SinkErrors.WithLabelValues(s.name).Inc()
			summary.RecordFailures++
			summary.Errors = append(summary.Errors, &TableError{Stage: StageRecord, SourceKey: s.name, Err: err})
		}
	}
}
