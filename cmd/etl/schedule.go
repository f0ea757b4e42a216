package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/robfig/cron/v3"

	"github.com/couchcryptid/open-data-etl/internal/pipeline"
)

// runner is the part of the pipeline the scheduler drives.
type runner interface {
	Run(ctx context.Context) (pipeline.RunSummary, error)
}

// scheduler fires pipeline runs on a cron expression. A tick that lands while
// a run is still going is skipped.
type scheduler struct {
	ctx    context.Context
	cron   *cron.Cron
	runner runner
	logger *slog.Logger
}

func newScheduler(ctx context.Context, expr string, r runner, logger *slog.Logger) (*scheduler, error) {
	cl := cronLogger{logger: logger.With("component", "cron")}
	s := &scheduler{
		ctx:    ctx,
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner: r,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(expr, s.runNow); err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return s, nil
}

func (s *scheduler) Start() { s.cron.Start() }

// Stop stops new ticks and waits for an in-flight run or ctx, whichever ends first.
func (s *scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout while waiting for pipeline run")
	}
}

func (s *scheduler) runNow() {
	_, err := s.runner.Run(s.ctx)
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrRunInProgress):
		s.logger.Info("pipeline run skipped, previous run still in progress")
	case s.ctx.Err() != nil:
		s.logger.Info("pipeline run interrupted by shutdown")
	default:
		s.logger.Error("pipeline run failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// readiness is ready when every checker is.
type readiness []sharedobs.ReadinessChecker

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
