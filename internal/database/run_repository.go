package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/citypulse/citypulse/internal/ingestion"
	"github.com/citypulse/citypulse/internal/models"
	"github.com/google/uuid"
)

var _ ingestion.RunReporter = (*RunRepository)(nil)

// RunRepository persists run summaries to ingestion_runs.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// ReportRun stores the summary. Re-reporting a run ID overwrites it.
func (r *RunRepository) ReportRun(ctx context.Context, s models.RunSummary) error {
	if s.RunID == "" {
		s.RunID = uuid.New().String()
	}

	perSource, err := json.Marshal(s.PerSource)
	if err != nil {
		return fmt.Errorf("failed to marshal per-source results: %w", err)
	}

	query := `
		INSERT INTO ingestion_runs (id, started_at, total_new, total_updated, total_skipped, total_failed,
			inactivated, stopped, duration_ms, per_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			total_new = EXCLUDED.total_new,
			total_updated = EXCLUDED.total_updated,
			total_skipped = EXCLUDED.total_skipped,
			total_failed = EXCLUDED.total_failed,
			inactivated = EXCLUDED.inactivated,
			stopped = EXCLUDED.stopped,
			duration_ms = EXCLUDED.duration_ms,
			per_source = EXCLUDED.per_source,
			recorded_at = NOW()
	`

	_, err = r.db.ExecContext(ctx, query,
		s.RunID,
		s.StartedAt,
		s.TotalNew,
		s.TotalUpdated,
		s.TotalSkipped,
		s.TotalFailed,
		s.Inactivated,
		s.Stopped,
		s.DurationMs,
		perSource,
	)
	if err != nil {
		return fmt.Errorf("failed to store run %s: %w", s.RunID, err)
	}
	return nil
}

// Recent returns the latest run summaries, newest first.
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, total_new, total_updated, total_skipped, total_failed,
		       inactivated, stopped, duration_ms, per_source
		FROM ingestion_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []models.RunSummary{}
	for rows.Next() {
		var s models.RunSummary
		var perSource []byte

		if err := rows.Scan(
			&s.RunID,
			&s.StartedAt,
			&s.TotalNew,
			&s.TotalUpdated,
			&s.TotalSkipped,
			&s.TotalFailed,
			&s.Inactivated,
			&s.Stopped,
			&s.DurationMs,
			&perSource,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		if len(perSource) > 0 {
			if err := json.Unmarshal(perSource, &s.PerSource); err != nil {
				return nil, fmt.Errorf("failed to unmarshal per-source results: %w", err)
			}
		}
		runs = append(runs, s)
	}

	return runs, rows.Err()
}
