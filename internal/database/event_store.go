package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/citypulse/citypulse/internal/ingestion"
	"github.com/citypulse/citypulse/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var _ ingestion.EventStore = (*PostgresEventStore)(nil)

const eventColumns = `
	id, title, title_key, date_time, end_date_time, date_estimated,
	venue, address, city, description, short_description, category, tags,
	image_url, source_site, original_url, status,
	imported, imported_at, imported_by, import_notes,
	last_scraped, price, is_free, organizer_name, organizer_url,
	created_at, updated_at`

// PostgresEventStore implements the ingestion record store and the review
// surface on PostgreSQL. Each mutation is a single statement.
type PostgresEventStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresEventStore creates a store. now may be nil.
func NewPostgresEventStore(db *sql.DB, now func() time.Time) *PostgresEventStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresEventStore{db: db, now: now}
}

// Insert stores a new event and returns its ID.
func (s *PostgresEventStore) Insert(ctx context.Context, event models.Event) (string, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	now := s.now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now
	if event.LastScraped.IsZero() {
		event.LastScraped = now
	}
	if len(event.Status) == 0 {
		event.Status = models.NewStatusSet(models.StatusNew)
	}
	if event.Tags == nil {
		event.Tags = []string{}
	}

	query := `INSERT INTO events (` + eventColumns + `) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Title,
		models.NormalizeTitle(event.Title),
		event.DateTime,
		event.EndDateTime,
		event.DateEstimated,
		event.Venue,
		event.Address,
		event.City,
		event.Description,
		event.ShortDescription,
		event.Category,
		pq.Array(event.Tags),
		event.ImageURL,
		event.SourceSite,
		event.OriginalURL,
		event.Status,
		event.Imported,
		event.ImportedAt,
		event.ImportedBy,
		event.ImportNotes,
		event.LastScraped,
		event.Price,
		event.IsFree,
		event.OrganizerName,
		event.OrganizerURL,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	return event.ID, nil
}

// FindApproxMatch narrows by the date window in SQL and tests title
// containment both ways on the stored title_key. The closest dateTime wins,
// then the oldest record.
func (s *PostgresEventStore) FindApproxMatch(ctx context.Context, title string, dateTime time.Time, window time.Duration) (*models.Event, error) {
	key := models.NormalizeTitle(title)
	if key == "" {
		return nil, nil
	}

	query := `SELECT ` + eventColumns + `
		FROM events
		WHERE title_key <> ''
		  AND (strpos(title_key, $1) > 0 OR strpos($1, title_key) > 0)
		  AND date_time BETWEEN $2 AND $3
		ORDER BY ABS(EXTRACT(EPOCH FROM (date_time - $4::timestamptz))), created_at
		LIMIT 1`

	event, err := scanEvent(s.db.QueryRowContext(ctx, query,
		key, dateTime.Add(-window), dateTime.Add(window), dateTime))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find matching event: %w", err)
	}
	return event, nil
}

// UpdateFields applies patch in one UPDATE. LastScraped never moves
// backwards and the label is appended only when absent.
func (s *PostgresEventStore) UpdateFields(ctx context.Context, id string, patch models.EventPatch) error {
	if _, err := uuid.Parse(id); err != nil {
		return models.ErrNotFound
	}

	sets := []string{}
	args := []any{id}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}

	if patch.Description != nil {
		add("description = $%d", *patch.Description)
	}
	if patch.ShortDescription != nil {
		add("short_description = $%d", *patch.ShortDescription)
	}
	if patch.Venue != nil {
		add("venue = $%d", *patch.Venue)
	}
	if patch.Address != nil {
		add("address = $%d", *patch.Address)
	}
	if patch.ImageURL != nil {
		add("image_url = $%d", *patch.ImageURL)
	}
	if patch.LastScraped != nil {
		add("last_scraped = GREATEST(last_scraped, $%d)", *patch.LastScraped)
	}
	if patch.AddLabel != "" {
		args = append(args, string(patch.AddLabel))
		n := len(args)
		sets = append(sets, fmt.Sprintf(
			"status = CASE WHEN $%d = ANY(status) THEN status ELSE array_append(status, $%d) END", n, n))
	}
	add("updated_at = $%d", s.now().UTC())

	query := fmt.Sprintf("UPDATE events SET %s WHERE id = $1", strings.Join(sets, ", "))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// BulkAddLabel adds label to every record matching pred in one statement.
func (s *PostgresEventStore) BulkAddLabel(ctx context.Context, pred models.LabelPredicate, label models.StatusLabel) (int64, error) {
	args := []any{string(label), s.now().UTC()}
	conditions := []string{"NOT ($1 = ANY(status))"}

	if !pred.DateBefore.IsZero() {
		args = append(args, pred.DateBefore)
		conditions = append(conditions, fmt.Sprintf("date_time < $%d", len(args)))
	}
	if pred.WithoutLabel != "" && pred.WithoutLabel != label {
		args = append(args, string(pred.WithoutLabel))
		conditions = append(conditions, fmt.Sprintf("NOT ($%d = ANY(status))", len(args)))
	}

	query := `UPDATE events SET status = array_append(status, $1), updated_at = $2 WHERE ` +
		strings.Join(conditions, " AND ")

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to add label %s: %w", label, err)
	}
	return result.RowsAffected()
}

// MarkImported performs the one-way import transition. A record that is
// already imported is left untouched.
func (s *PostgresEventStore) MarkImported(ctx context.Context, id string, rec models.ImportRecord) (*models.Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `UPDATE events SET
			imported = TRUE,
			imported_at = $2,
			imported_by = $3,
			import_notes = $4,
			status = CASE WHEN 'imported' = ANY(status) THEN status ELSE array_append(status, 'imported') END,
			updated_at = $5
		WHERE id = $1 AND NOT imported
		RETURNING ` + eventColumns

	event, err := scanEvent(s.db.QueryRowContext(ctx, query, id, rec.At, rec.Actor, rec.Notes, s.now().UTC()))
	if err == nil {
		return event, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to mark event %s imported: %w", id, err)
	}

	var imported bool
	err = s.db.QueryRowContext(ctx, `SELECT imported FROM events WHERE id = $1`, id).Scan(&imported)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load event %s: %w", id, err)
	}
	return nil, models.ErrAlreadyImported
}

// GetByID retrieves an event by its ID.
func (s *PostgresEventStore) GetByID(ctx context.Context, id string) (*models.Event, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	event, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return event, nil
}

// Query retrieves events based on filter criteria.
func (s *PostgresEventStore) Query(ctx context.Context, q models.EventQuery) (*models.EventPage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	where, args := s.buildWhere(q)

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	order := "DESC"
	if q.SortOrder == models.SortOrderAsc {
		order = "ASC"
	}
	args = append(args, q.Limit, q.GetOffset())
	query := fmt.Sprintf(`SELECT %s FROM events %s ORDER BY date_time %s, created_at LIMIT $%d OFFSET $%d`,
		eventColumns, where, order, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []models.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return models.NewEventPage(events, q, total), nil
}

func (s *PostgresEventStore) buildWhere(q models.EventQuery) (string, []any) {
	conditions := []string{}
	args := []any{}
	add := func(expr string, v any) {
		args = append(args, v)
		conditions = append(conditions, fmt.Sprintf(expr, len(args)))
	}

	if q.City != "" {
		add("LOWER(city) = LOWER($%d)", q.City)
	}
	if q.Category != "" {
		add("category ILIKE $%d", likePattern(q.Category))
	}
	if q.Keyword != "" {
		args = append(args, likePattern(q.Keyword))
		n := len(args)
		conditions = append(conditions, fmt.Sprintf(
			"(title ILIKE $%d OR description ILIKE $%d OR venue ILIKE $%d)", n, n, n))
	}
	if q.Since != nil {
		add("date_time >= $%d", *q.Since)
	}
	if q.Until != nil {
		add("date_time <= $%d", *q.Until)
	}
	if len(q.Statuses) > 0 {
		labels := make([]string, len(q.Statuses))
		for i, st := range q.Statuses {
			labels[i] = string(st)
		}
		add("status && $%d::text[]", pq.Array(labels))
	}
	if q.Public {
		conditions = append(conditions, "NOT ('inactive' = ANY(status))")
		add("date_time >= $%d", s.now().UTC())
	}

	if len(conditions) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// Stats returns label totals and the top ten categories and sources.
func (s *PostgresEventStore) Stats(ctx context.Context) (*models.EventStats, error) {
	stats := &models.EventStats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE 'new' = ANY(status)),
			COUNT(*) FILTER (WHERE 'updated' = ANY(status)),
			COUNT(*) FILTER (WHERE 'inactive' = ANY(status)),
			COUNT(*) FILTER (WHERE imported)
		FROM events
	`).Scan(&stats.Total, &stats.New, &stats.Updated, &stats.Inactive, &stats.Imported)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	if stats.ByCategory, err = s.groupCounts(ctx, "category"); err != nil {
		return nil, err
	}
	if stats.BySource, err = s.groupCounts(ctx, "source_site"); err != nil {
		return nil, err
	}
	return stats, nil
}

// groupCounts is only called with fixed column names.
func (s *PostgresEventStore) groupCounts(ctx context.Context, column string) ([]models.GroupCount, error) {
	query := fmt.Sprintf(`SELECT %[1]s, COUNT(*) FROM events GROUP BY %[1]s ORDER BY COUNT(*) DESC, %[1]s LIMIT 10`, column)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to group events by %s: %w", column, err)
	}
	defer rows.Close()

	out := []models.GroupCount{}
	for rows.Next() {
		var g models.GroupCount
		if err := rows.Scan(&g.Key, &g.Count); err != nil {
			return nil, fmt.Errorf("failed to scan %s group: %w", column, err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*models.Event, error) {
	var e models.Event
	var endDateTime, importedAt sql.NullTime
	var tags pq.StringArray

	err := row.Scan(
		&e.ID,
		&e.Title,
		&e.TitleKey,
		&e.DateTime,
		&endDateTime,
		&e.DateEstimated,
		&e.Venue,
		&e.Address,
		&e.City,
		&e.Description,
		&e.ShortDescription,
		&e.Category,
		&tags,
		&e.ImageURL,
		&e.SourceSite,
		&e.OriginalURL,
		&e.Status,
		&e.Imported,
		&importedAt,
		&e.ImportedBy,
		&e.ImportNotes,
		&e.LastScraped,
		&e.Price,
		&e.IsFree,
		&e.OrganizerName,
		&e.OrganizerURL,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Tags = []string(tags)
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if endDateTime.Valid {
		e.EndDateTime = &endDateTime.Time
	}
	if importedAt.Valid {
		e.ImportedAt = &importedAt.Time
	}
	return &e, nil
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
