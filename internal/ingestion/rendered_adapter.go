package ingestion

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/models"
)

// RenderRequest describes one page to render and extract.
type RenderRequest struct {
	URL          string
	WaitSelector string
	Selectors    config.Selectors
	WaitTimeout  time.Duration
}

// RenderedCard is one card as extracted in the page. Error is set when the
// in-page extraction for that card threw.
type RenderedCard struct {
	Title       string `json:"title"`
	DateText    string `json:"date_text"`
	Venue       string `json:"venue"`
	Link        string `json:"link"`
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
	Error       string `json:"error,omitempty"`
}

// Renderer executes a page in a browser and returns its listing cards.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) ([]RenderedCard, error)
}

// RenderedAdapter scrapes listings that only exist after client-side
// rendering.
type RenderedAdapter struct {
	source      config.SourceConfig
	renderer    Renderer
	waitTimeout time.Duration
	logger      *slog.Logger
}

// NewRenderedAdapter creates an adapter for one rendered source.
func NewRenderedAdapter(src config.SourceConfig, renderer Renderer, logger *slog.Logger) *RenderedAdapter {
	return &RenderedAdapter{
		source:      src,
		renderer:    renderer,
		waitTimeout: 10 * time.Second,
		logger:      logger.With("source", src.Name),
	}
}

// Name returns the source name.
func (a *RenderedAdapter) Name() string {
	return a.source.Name
}

// Scrape renders each listing URL and converts its cards into candidates.
func (a *RenderedAdapter) Scrape(ctx context.Context) (ScrapeResult, error) {
	start := time.Now()
	var result ScrapeResult

	for _, pageURL := range a.source.URLs {
		cards, err := a.renderer.Render(ctx, RenderRequest{
			URL:          pageURL,
			WaitSelector: a.source.WaitSelector,
			Selectors:    a.source.Selectors,
			WaitTimeout:  a.waitTimeout,
		})
		if err != nil {
			result.FetchedAt = time.Now()
			result.Duration = time.Since(start)
			return result, &TransientFetchError{Source: a.source.Name, URL: pageURL, Err: err}
		}

		base, _ := url.Parse(pageURL)
		if a.source.BaseURL != "" {
			if u, perr := url.Parse(a.source.BaseURL); perr == nil {
				base = u
			}
		}

		for _, card := range cards {
			cand, err := a.toCandidate(card, base)
			if err != nil {
				result.Rejected = append(result.Rejected, err)
				continue
			}
			result.Candidates = append(result.Candidates, cand)
		}
		a.logger.Debug("rendered page extracted", "url", pageURL, "cards", len(cards))
	}

	result.FetchedAt = time.Now()
	result.Duration = time.Since(start)
	return result, nil
}

func (a *RenderedAdapter) toCandidate(card RenderedCard, base *url.URL) (models.RawCandidate, error) {
	if card.Error != "" {
		return models.RawCandidate{}, &ExtractionError{Source: a.source.Name, Reason: "card script error: " + card.Error}
	}

	title := collapseSpace(card.Title)
	link := resolveURL(base, card.Link)
	if title == "" {
		return models.RawCandidate{}, &ExtractionError{Source: a.source.Name, Link: link, Reason: "card has no title"}
	}
	if link == "" {
		return models.RawCandidate{}, &ExtractionError{Source: a.source.Name, Reason: "card has no link: " + title}
	}

	return models.RawCandidate{
		Source:      a.source.Name,
		Title:       title,
		DateText:    collapseSpace(card.DateText),
		Venue:       collapseSpace(card.Venue),
		Link:        link,
		ImageURL:    resolveURL(base, card.ImageURL),
		Description: collapseSpace(card.Description),
	}, nil
}

var _ Adapter = (*RenderedAdapter)(nil)
