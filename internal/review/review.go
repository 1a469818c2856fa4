// Package review implements the curator-facing side of the event store:
// browsing ingested events and marking them as imported.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/citypulse/citypulse/internal/models"
)

var (
	ErrNotFound        = models.ErrNotFound
	ErrAlreadyImported = models.ErrAlreadyImported
	ErrMissingActor    = errors.New("import actor is required")
)

// Store is the subset of the event store the review service needs. Both
// ingestion.MemoryStore and database.PostgresEventStore satisfy it.
type Store interface {
	GetByID(ctx context.Context, id string) (*models.Event, error)
	MarkImported(ctx context.Context, id string, rec models.ImportRecord) (*models.Event, error)
	Query(ctx context.Context, q models.EventQuery) (*models.EventPage, error)
	Stats(ctx context.Context) (*models.EventStats, error)
}

// Service exposes the review operations.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires a review service. now may be nil.
func NewService(store Store, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, logger: logger.With("component", "review"), now: now}
}

// MarkImported records that actor imported the event. The transition is
// one-way; a second call fails with ErrAlreadyImported and changes nothing.
func (s *Service) MarkImported(ctx context.Context, id, actor, notes string) (*models.Event, error) {
	id = strings.TrimSpace(id)
	actor = strings.TrimSpace(actor)
	if id == "" {
		return nil, ErrNotFound
	}
	if actor == "" {
		return nil, ErrMissingActor
	}

	event, err := s.store.MarkImported(ctx, id, models.ImportRecord{
		Actor: actor,
		Notes: strings.TrimSpace(notes),
		At:    s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrAlreadyImported) {
			s.logger.Warn("import rejected", "event_id", id, "actor", actor, "reason", err)
			return nil, err
		}
		return nil, fmt.Errorf("mark event %s imported: %w", id, err)
	}

	s.logger.Info("event imported", "event_id", id, "actor", actor, "title", event.Title)
	return event, nil
}

// Get returns one event.
func (s *Service) Get(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return event, nil
}

// List runs a filtered, paged query.
func (s *Service) List(ctx context.Context, q models.EventQuery) (*models.EventPage, error) {
	page, err := s.store.Query(ctx, q)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return nil, err
		}
		return nil, fmt.Errorf("query events: %w", err)
	}
	return page, nil
}

// Stats returns label totals and category/source breakdowns.
func (s *Service) Stats(ctx context.Context) (*models.EventStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	return stats, nil
}
