package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/database"
	"github.com/citypulse/citypulse/internal/ingestion"
	"github.com/citypulse/citypulse/internal/logging"
	"github.com/citypulse/citypulse/internal/metrics"
	"github.com/citypulse/citypulse/internal/scheduler"
	"github.com/citypulse/citypulse/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	once := flag.Bool("once", false, "run the pipeline once and exit")
	only := flag.String("source", "", "run a single named source once and exit")
	migrate := flag.Bool("migrate", true, "apply pending migrations at startup")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", "error", err)
		return 1
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to init logger", "error", err)
		return 1
	}

	catalog, err := config.LoadCatalog(cfg.Scraper.SourcesFile)
	if err != nil {
		logger.Error("failed to load source catalog", "error", err)
		return 1
	}

	collector, err := metrics.NewCollector()
	if err != nil {
		logger.Error("failed to init metrics", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("connecting to database")
	db, err := database.Connect(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		logger.Error("record store unreachable", "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database connected")

	if *migrate {
		// Non-fatal so an already-migrated database still starts.
		if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsDir, logger); err != nil {
			logger.Warn("failed to run migrations, continuing anyway", "error", err)
		}
	}

	pipeline, err := buildPipeline(cfg, catalog, db, collector, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		return 1
	}

	switch {
	case *only != "":
		result, err := pipeline.RunOne(ctx, *only)
		if err != nil {
			logger.Error("single source run failed", "source", *only, "error", err, "known_sources", pipeline.SourceNames())
			return 1
		}
		logger.Info("single source run finished",
			"source", result.Source,
			"new", result.NewCount,
			"updated", result.UpdatedCount,
			"skipped", result.SkippedCount,
			"failed", result.FailedCount,
		)
		return 0

	case *once:
		// Per-source failures are reported in the summary, not the exit code.
		if _, err := pipeline.Run(ctx); err != nil {
			logger.Error("ingestion run failed", "error", err)
		}
		return 0
	}

	return daemon(ctx, cfg, db, pipeline, collector, logger)
}

func buildPipeline(cfg config.Config, catalog *config.Catalog, db *sql.DB, collector *metrics.Collector, logger *slog.Logger) (*ingestion.Pipeline, error) {
	renderer := ingestion.NewChromeRenderer(cfg.Scraper.BrowserHeadless, logger)
	sources, err := ingestion.BuildSources(catalog, ingestion.RegistryDeps{
		HTTPClient: &http.Client{Timeout: cfg.Scraper.AdapterTimeout},
		Renderer:   renderer,
		Logger:     logger,
		Location:   cfg.Scraper.Location(),
	})
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, errors.New("source catalog has no enabled sources")
	}

	return ingestion.NewPipeline(sources, ingestion.PipelineDeps{
		Store:  database.NewPostgresEventStore(db, nil),
		Errors: database.NewPostgresIngestionErrorRepository(db),
		Reporters: []ingestion.RunReporter{
			ingestion.LogReporter{Logger: logger},
			ingestion.MetricsReporter{Collector: collector},
			database.NewRunRepository(db),
		},
		Metrics: collector,
		Logger:  logger,
	}, ingestion.PipelineConfigFromScraper(cfg.Scraper)), nil
}

func daemon(ctx context.Context, cfg config.Config, db *sql.DB, pipeline *ingestion.Pipeline, collector *metrics.Collector, logger *slog.Logger) int {
	sched, err := scheduler.New(pipeline, scheduler.OptionsFromConfig(cfg.Scraper), nil, logger, collector)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		return 1
	}

	var srv *server.Server
	if cfg.Metrics.Addr != "" {
		handler := server.NewOpsHandler(server.OpsDeps{
			Metrics:   collector,
			Health:    func(ctx context.Context) error { return database.HealthCheck(ctx, db) },
			Pipeline:  pipeline,
			Scheduler: sched,
			Errors:    database.NewPostgresIngestionErrorRepository(db),
			Logger:    logger,
		})
		srv = server.New(cfg.Metrics.Addr, logger, handler)
		go func() {
			if err := srv.Start(); err != nil {
				logger.Error("ops listener error", "error", err)
			}
		}()
	}

	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	logger.Info("harvester started", "sources", pipeline.SourceNames())

	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-done:
		if err != nil {
			logger.Error("scheduler exited", "error", err)
		}
	}

	sched.Stop()
	if srv != nil {
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}
	logger.Info("shutdown complete")
	return 0
}
