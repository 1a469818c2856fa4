package ingestion

import (
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/metrics"
	"github.com/citypulse/citypulse/internal/models"
)

// SourceProfile carries the per-source defaults applied during
// normalization.
type SourceProfile struct {
	Name                   string
	Site                   string
	City                   string
	Category               string
	Tags                   []string
	VenuePlaceholder       string
	DescriptionPlaceholder string
	Location               *time.Location
}

// ProfileFromConfig builds a profile from a catalog entry.
func ProfileFromConfig(src config.SourceConfig, fallback *time.Location) SourceProfile {
	return SourceProfile{
		Name:                   src.Name,
		Site:                   src.Site,
		City:                   src.City,
		Category:               src.Category,
		Tags:                   src.Tags,
		VenuePlaceholder:       src.VenuePlaceholder,
		DescriptionPlaceholder: src.DescriptionPlaceholder,
		Location:               src.Location(fallback),
	}
}

// Normalizer maps raw candidates into canonical records.
type Normalizer struct {
	logger  *slog.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

// NewNormalizer creates a normalizer. collector may be nil.
func NewNormalizer(logger *slog.Logger, collector *metrics.Collector, now func() time.Time) *Normalizer {
	if now == nil {
		now = time.Now
	}
	return &Normalizer{logger: logger, metrics: collector, now: now}
}

// Normalize validates c and fills the record fields from c and the profile
// defaults. Status, ID and timestamps are left for the merge engine.
func (n *Normalizer) Normalize(p SourceProfile, c models.RawCandidate) (models.Event, error) {
	title := collapseSpace(c.Title)
	link := strings.TrimSpace(c.Link)
	if title == "" {
		return models.Event{}, &ExtractionError{Source: p.Name, Link: link, Reason: "missing title"}
	}
	if link == "" {
		return models.Event{}, &ExtractionError{Source: p.Name, Reason: "missing link for " + title}
	}

	venue := collapseSpace(c.Venue)
	if venue == "" {
		venue = p.VenuePlaceholder
	}

	description := strings.TrimSpace(c.Description)
	if description == "" {
		description = strings.ReplaceAll(p.DescriptionPlaceholder, "%s", title)
	}

	tags := make([]string, len(p.Tags))
	copy(tags, p.Tags)

	event := models.Event{
		Title:            title,
		TitleKey:         models.NormalizeTitle(title),
		Venue:            venue,
		City:             p.City,
		Description:      description,
		ShortDescription: truncateRunes(description, models.ShortDescriptionLimit),
		Category:         p.Category,
		Tags:             tags,
		ImageURL:         strings.TrimSpace(c.ImageURL),
		SourceSite:       p.Site,
		OriginalURL:      link,
	}

	event.DateTime, event.DateEstimated = n.resolveDate(p, c)
	return event, nil
}

func (n *Normalizer) resolveDate(p SourceProfile, c models.RawCandidate) (time.Time, bool) {
	if !c.StartsAt.IsZero() {
		return c.StartsAt, false
	}

	now := n.now()
	if t, ok := ParseEventDate(c.DateText, p.Location, now); ok {
		return t, false
	}

	n.logger.Warn("event date not parseable, using scrape time",
		"source", p.Name,
		"title", c.Title,
		"date_text", c.DateText,
	)
	n.metrics.DateEstimated(p.Name)
	return now, true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit])
}
