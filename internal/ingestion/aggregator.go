package ingestion

import (
	"context"
	"log/slog"
	"time"

	"github.com/citypulse/citypulse/internal/metrics"
	"github.com/citypulse/citypulse/internal/models"
)

// Aggregate folds per-source results into a run summary. It is pure.
func Aggregate(runID string, startedAt time.Time, results []models.SourceResult, inactivated int64, stopped bool, duration time.Duration) models.RunSummary {
	summary := models.RunSummary{
		RunID:       runID,
		StartedAt:   startedAt,
		PerSource:   make([]models.SourceResult, len(results)),
		Inactivated: inactivated,
		Stopped:     stopped,
		DurationMs:  duration.Milliseconds(),
	}
	copy(summary.PerSource, results)

	for _, r := range results {
		summary.TotalNew += r.NewCount
		summary.TotalUpdated += r.UpdatedCount
		summary.TotalSkipped += r.SkippedCount
		summary.TotalFailed += r.FailedCount
	}
	return summary
}

// RunReporter receives the summary of every finished run.
type RunReporter interface {
	ReportRun(ctx context.Context, summary models.RunSummary) error
}

// LogReporter writes the summary as one structured log line per source plus
// a total line.
type LogReporter struct {
	Logger *slog.Logger
}

// ReportRun implements RunReporter.
func (r LogReporter) ReportRun(_ context.Context, s models.RunSummary) error {
	for _, src := range s.PerSource {
		attrs := []any{
			"run_id", s.RunID,
			"source", src.Source,
			"fetched", src.Fetched,
			"new", src.NewCount,
			"updated", src.UpdatedCount,
			"skipped", src.SkippedCount,
			"failed", src.FailedCount,
			"duration", src.Duration,
		}
		if src.Err != "" {
			r.Logger.Warn("source finished with error", append(attrs, "error", src.Err)...)
			continue
		}
		r.Logger.Info("source finished", attrs...)
	}

	r.Logger.Info("ingestion run finished",
		"run_id", s.RunID,
		"new", s.TotalNew,
		"updated", s.TotalUpdated,
		"skipped", s.TotalSkipped,
		"failed", s.TotalFailed,
		"inactivated", s.Inactivated,
		"stopped", s.Stopped,
		"duration_ms", s.DurationMs,
	)
	return nil
}

// MetricsReporter publishes run-level metrics.
type MetricsReporter struct {
	Collector *metrics.Collector
}

// ReportRun implements RunReporter.
func (r MetricsReporter) ReportRun(_ context.Context, s models.RunSummary) error {
	result := "completed"
	if s.Stopped {
		result = "stopped"
	}
	r.Collector.ObserveRun(result, time.Duration(s.DurationMs)*time.Millisecond)
	r.Collector.Inactivated(s.Inactivated)
	return nil
}
