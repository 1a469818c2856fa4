package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/citypulse/citypulse/internal/ingestion"
	"github.com/citypulse/citypulse/internal/models"
	"github.com/google/uuid"
)

var _ ingestion.ErrorRecorder = (*PostgresIngestionErrorRepository)(nil)

// PostgresIngestionErrorRepository stores failures recovered during runs.
type PostgresIngestionErrorRepository struct {
	db *sql.DB
}

// NewPostgresIngestionErrorRepository creates a new PostgreSQL-based ingestion error repository.
func NewPostgresIngestionErrorRepository(db *sql.DB) *PostgresIngestionErrorRepository {
	return &PostgresIngestionErrorRepository{db: db}
}

// RecordError saves an ingestion error to the database.
func (r *PostgresIngestionErrorRepository) RecordError(ctx context.Context, rec models.IngestionError) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	var metadata sql.NullString
	if rec.Metadata != "" {
		metadata = sql.NullString{String: rec.Metadata, Valid: true}
	}

	query := `
		INSERT INTO ingestion_errors (id, run_id, source, error_type, url, error_msg, metadata, created_at, resolved, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			error_msg = EXCLUDED.error_msg,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.RunID,
		rec.Source,
		rec.ErrorType,
		rec.URL,
		rec.ErrorMsg,
		metadata,
		rec.CreatedAt,
		rec.Resolved,
		rec.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record ingestion error: %w", err)
	}
	return nil
}

// List retrieves ingestion errors, newest first.
func (r *PostgresIngestionErrorRepository) List(ctx context.Context, limit int, unresolvedOnly bool) ([]models.IngestionError, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT id, run_id, source, error_type, url, error_msg, metadata, created_at, resolved, resolved_at
		FROM ingestion_errors
	`
	if unresolvedOnly {
		query += " WHERE resolved = FALSE"
	}
	query += " ORDER BY created_at DESC LIMIT $1"

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query ingestion errors: %w", err)
	}
	defer rows.Close()

	out := []models.IngestionError{}
	for rows.Next() {
		var e models.IngestionError
		var metadata sql.NullString
		var resolvedAt sql.NullTime

		if err := rows.Scan(
			&e.ID,
			&e.RunID,
			&e.Source,
			&e.ErrorType,
			&e.URL,
			&e.ErrorMsg,
			&metadata,
			&e.CreatedAt,
			&e.Resolved,
			&resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ingestion error: %w", err)
		}

		if metadata.Valid {
			e.Metadata = metadata.String
		}
		if resolvedAt.Valid {
			e.ResolvedAt = &resolvedAt.Time
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

// MarkResolved marks an error as resolved.
func (r *PostgresIngestionErrorRepository) MarkResolved(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return models.ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE ingestion_errors
		SET resolved = TRUE, resolved_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve ingestion error: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// CountUnresolved returns the count of unresolved errors.
func (r *PostgresIngestionErrorRepository) CountUnresolved(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ingestion_errors WHERE resolved = FALSE`).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count unresolved errors: %w", err)
	}
	return count, nil
}
