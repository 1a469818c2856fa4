package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/citypulse/citypulse/internal/models"
)

var sydney = mustLocation("Australia/Sydney")

func mustLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// fakeClock is a settable clock shared by the store and the pipeline.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// fakeAdapter returns a fixed result, optionally failing or panicking.
type fakeAdapter struct {
	name    string
	result  ScrapeResult
	err     error
	panics  bool
	calls   int
	onCall  func(ctx context.Context)
	blockOn chan struct{}
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) Scrape(ctx context.Context) (ScrapeResult, error) {
	a.calls++
	if a.onCall != nil {
		a.onCall(ctx)
	}
	if a.blockOn != nil {
		select {
		case <-a.blockOn:
		case <-ctx.Done():
			return ScrapeResult{}, ctx.Err()
		}
	}
	if a.panics {
		panic("selector exploded")
	}
	return a.result, a.err
}

// recordingErrors collects recorded ingestion errors.
type recordingErrors struct {
	mu      sync.Mutex
	records []models.IngestionError
}

func (r *recordingErrors) RecordError(_ context.Context, rec models.IngestionError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recordingErrors) byType(kind models.IngestionErrorType) []models.IngestionError {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.IngestionError
	for _, rec := range r.records {
		if rec.ErrorType == string(kind) {
			out = append(out, rec)
		}
	}
	return out
}

// recordingReporter keeps every summary it receives.
type recordingReporter struct {
	summaries []models.RunSummary
}

func (r *recordingReporter) ReportRun(_ context.Context, s models.RunSummary) error {
	r.summaries = append(r.summaries, s)
	return nil
}

func testProfile(name string) SourceProfile {
	return SourceProfile{
		Name:                   name,
		Site:                   name + " site",
		City:                   "Sydney",
		Category:               "General",
		Tags:                   []string{name},
		VenuePlaceholder:       "Venue TBA",
		DescriptionPlaceholder: "Event: %s",
		Location:               sydney,
	}
}

func candidate(source, title string, at time.Time, venue string) models.RawCandidate {
	return models.RawCandidate{
		Source:      source,
		Title:       title,
		StartsAt:    at,
		Venue:       venue,
		Link:        "https://example.com/" + source + "/" + models.NormalizeTitle(title),
		Description: title + " description",
	}
}
