package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/open-data-etl/internal/adapter/artifact"
	"github.com/couchcryptid/open-data-etl/internal/adapter/catalog"
	"github.com/couchcryptid/open-data-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/open-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/open-data-etl/internal/config"
	"github.com/couchcryptid/open-data-etl/internal/observability"
	"github.com/couchcryptid/open-data-etl/internal/pipeline"
	"github.com/couchcryptid/open-data-etl/internal/source"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Environment variables already set take precedence over .env.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	formats, err := artifact.ParseFormats(cfg.OutputFormats)
	if err != nil {
		logger.Error("invalid output formats", "error", err)
		return 1
	}
	writer, err := artifact.NewWriter(cfg.SilverRoot, formats, logger)
	if err != nil {
		logger.Error("create artifact writer", "error", err)
		return 1
	}

	scanner := source.NewScanner(cfg.BronzeRoot, cfg.SourceExtensions, cfg.KeySeparator, logger)
	loader := source.NewLoader(cfg.RecordsKey)
	transformer := pipeline.NewTransformer(cfg.RowAxisTables)
	p := pipeline.New(scanner, loader, transformer, writer, logger, metrics, cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ready := readiness{p}
	var tables httpadapter.TableLookup
	if cfg.CatalogDSN != "" {
		store, err := catalog.Open(ctx, cfg.CatalogDriver, cfg.CatalogDSN, logger)
		if err != nil {
			logger.Error("open catalog", "driver", cfg.CatalogDriver, "error", err)
			return 1
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("catalog close error", "error", err)
			}
		}()
		p.AddSink("catalog", store)
		tables = store
		ready = append(ready, store)
		logger.Info("table catalog enabled", "driver", cfg.CatalogDriver)
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher := kafkaadapter.NewPublisher(cfg, logger)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Error("kafka publisher close error", "error", err)
			}
		}()
		p.AddSink("kafka", publisher)
		logger.Info("table events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	if cfg.Schedule == "" {
		if _, err := p.Run(ctx); err != nil {
			logger.Error("pipeline run failed", "error", err)
			return 1
		}
		return 0
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, tables, p, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	sched, err := newScheduler(ctx, cfg.Schedule, p, logger)
	if err != nil {
		logger.Error("invalid schedule", "schedule", cfg.Schedule, "error", err)
		return 1
	}
	sched.Start()
	logger.Info("pipeline scheduled", "schedule", cfg.Schedule, "run_on_start", cfg.RunOnStart)

	if cfg.RunOnStart {
		go sched.runNow()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return 0
}
