package database

import (
	"context"
	"errors"
	"testing"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/ingestion"
	"github.com/citypulse/citypulse/internal/models"
)

func TestConnect_EmptyURLIsStoreUnavailable(t *testing.T) {
	_, err := Connect(context.Background(), DefaultConfig())
	if !errors.Is(err, ingestion.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestConfigFrom(t *testing.T) {
	cfg := ConfigFrom(config.DatabaseConfig{URL: "postgres://localhost/citypulse", MaxConnections: 3})
	if cfg.URL != "postgres://localhost/citypulse" {
		t.Errorf("URL = %q", cfg.URL)
	}
	if cfg.MaxConnections != 3 || cfg.MaxIdleConnections != 3 {
		t.Errorf("pool sizes = %d/%d, want 3/3", cfg.MaxConnections, cfg.MaxIdleConnections)
	}
}

func TestLikePattern(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"jazz", "%jazz%"},
		{"100%", `%100\%%`},
		{"a_b", `%a\_b%`},
		{`c:\d`, `%c:\\d%`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := likePattern(tt.in); got != tt.want {
				t.Errorf("likePattern(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildWhere(t *testing.T) {
	store := NewPostgresEventStore(nil, nil)

	where, args := store.buildWhere(models.EventQuery{})
	if where != "" || len(args) != 0 {
		t.Errorf("empty query produced %q %v", where, args)
	}

	where, args = store.buildWhere(models.EventQuery{
		City:     "Sydney",
		Keyword:  "jazz",
		Statuses: []models.StatusLabel{models.StatusNew},
		Public:   true,
	})
	want := "WHERE LOWER(city) = LOWER($1) AND (title ILIKE $2 OR description ILIKE $2 OR venue ILIKE $2)" +
		" AND status && $3::text[] AND NOT ('inactive' = ANY(status)) AND date_time >= $4"
	if where != want {
		t.Errorf("where =\n%s\nwant\n%s", where, want)
	}
	if len(args) != 4 {
		t.Errorf("args = %d, want 4", len(args))
	}
}

func TestUUIDGuards(t *testing.T) {
	store := NewPostgresEventStore(nil, nil)
	ctx := context.Background()

	if _, err := store.GetByID(ctx, "nope"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("GetByID = %v", err)
	}
	if err := store.UpdateFields(ctx, "nope", models.EventPatch{}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("UpdateFields = %v", err)
	}
	if _, err := store.MarkImported(ctx, "nope", models.ImportRecord{Actor: "a"}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("MarkImported = %v", err)
	}
	if _, err := store.FindApproxMatch(ctx, "!!!", models.Event{}.DateTime, 0); err != nil {
		t.Errorf("empty title key should short-circuit, got %v", err)
	}
}
