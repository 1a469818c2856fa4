package ingestion

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/citypulse/citypulse/internal/logging"
	"github.com/citypulse/citypulse/internal/models"
)

func testPipelineConfig() PipelineConfig {
	cfg := DefaultPipelineConfig()
	cfg.AdapterTimeout = time.Second
	cfg.StoreTimeout = time.Second
	return cfg
}

func newTestPipeline(store EventStore, clock *fakeClock, cfg PipelineConfig, adapters ...*fakeAdapter) (*Pipeline, *recordingErrors, *recordingReporter) {
	sources := make([]Source, len(adapters))
	for i, a := range adapters {
		sources[i] = Source{Adapter: a, Profile: testProfile(a.name)}
	}
	errs := &recordingErrors{}
	reporter := &recordingReporter{}
	p := NewPipeline(sources, PipelineDeps{
		Store:     store,
		Errors:    errs,
		Reporters: []RunReporter{reporter},
		Logger:    logging.Discard(),
		Now:       clock.Now,
	}, cfg)
	return p, errs, reporter
}

func TestPipeline_FreshRunCounts(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	store := NewMemoryStore(clock.Now)
	base := time.Date(2026, 7, 10, 19, 0, 0, 0, sydney)

	adapter := &fakeAdapter{name: "eventbrite", result: ScrapeResult{Candidates: []models.RawCandidate{
		candidate("eventbrite", "Jazz Night", base, "Town Hall"),
		candidate("eventbrite", "Harbour Lights", base.Add(24*time.Hour), "Circular Quay"),
		candidate("eventbrite", "Open Mic", base.Add(48*time.Hour), "Newtown Social"),
	}}}

	p, _, reporter := newTestPipeline(store, clock, testPipelineConfig(), adapter)
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TotalNew != 3 || summary.TotalUpdated != 0 || summary.TotalSkipped != 0 {
		t.Errorf("counts new=%d updated=%d skipped=%d, want 3/0/0", summary.TotalNew, summary.TotalUpdated, summary.TotalSkipped)
	}
	if summary.Stopped {
		t.Error("run should not be stopped")
	}
	if len(reporter.summaries) != 1 || reporter.summaries[0].RunID != summary.RunID {
		t.Errorf("reporter did not receive the summary: %+v", reporter.summaries)
	}

	// Rescraping the same listing changes nothing but LastScraped.
	summary, _ = p.Run(context.Background())
	if summary.TotalNew != 0 || summary.TotalSkipped != 3 {
		t.Errorf("second run new=%d skipped=%d, want 0/3", summary.TotalNew, summary.TotalSkipped)
	}
	if store.Len() != 3 {
		t.Errorf("expected 3 records, got %d", store.Len())
	}
}

func TestPipeline_SourceIsolation(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	store := NewMemoryStore(clock.Now)
	base := time.Date(2026, 7, 10, 19, 0, 0, 0, sydney)

	good := func(name string) *fakeAdapter {
		return &fakeAdapter{name: name, result: ScrapeResult{Candidates: []models.RawCandidate{
			candidate(name, name+" Jazz Night", base, "Town Hall"),
			candidate(name, name+" Open Mic", base.Add(48*time.Hour), "Newtown Social"),
		}}}
	}

	tests := []struct {
		name   string
		broken *fakeAdapter
	}{
		{"panicking adapter", &fakeAdapter{name: "broken", panics: true}},
		{"failing adapter", &fakeAdapter{name: "broken", err: errors.New("connection reset")}},
		{"every card rejected", &fakeAdapter{name: "broken", result: ScrapeResult{Rejected: []error{
			&ExtractionError{Source: "broken", Reason: "card has no title"},
			&ExtractionError{Source: "broken", Reason: "card has no title"},
		}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store = NewMemoryStore(clock.Now)
			p, errs, _ := newTestPipeline(store, clock, testPipelineConfig(), good("first"), tt.broken, good("last"))

			summary, err := p.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			for _, name := range []string{"first", "last"} {
				r, ok := summary.Source(name)
				if !ok {
					t.Fatalf("missing result for %s", name)
				}
				if r.NewCount != 2 || r.FailedCount != 0 || r.Err != "" {
					t.Errorf("%s affected by broken source: %+v", name, r)
				}
			}

			broken, ok := summary.Source("broken")
			if !ok {
				t.Fatal("missing result for broken source")
			}
			if broken.Processed() != 0 {
				t.Errorf("broken source processed %d records", broken.Processed())
			}
			if summary.TotalNew != 4 {
				t.Errorf("total new = %d, want 4", summary.TotalNew)
			}
			if len(errs.records) == 0 {
				t.Error("expected the failure to be recorded")
			}
		})
	}
}

func TestPipeline_PartialCandidatesSurviveFetchFailure(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	store := NewMemoryStore(clock.Now)
	base := time.Date(2026, 7, 10, 19, 0, 0, 0, sydney)

	adapter := &fakeAdapter{
		name:   "paged",
		result: ScrapeResult{Candidates: []models.RawCandidate{candidate("paged", "Page One Gig", base, "Enmore")}},
		err:    &TransientFetchError{Source: "paged", URL: "https://example.com/page/2", Err: errors.New("503")},
	}

	p, errs, _ := newTestPipeline(store, clock, testPipelineConfig(), adapter)
	summary, _ := p.Run(context.Background())

	r, _ := summary.Source("paged")
	if r.NewCount != 1 {
		t.Errorf("new = %d, want 1", r.NewCount)
	}
	if r.Err == "" {
		t.Error("expected the fetch error on the source result")
	}
	fetchErrs := errs.byType(models.ErrorTypeFetchFailed)
	if len(fetchErrs) != 1 || fetchErrs[0].URL != "https://example.com/page/2" {
		t.Errorf("unexpected fetch errors: %+v", fetchErrs)
	}
}

func TestPipeline_AdapterTimeout(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	store := NewMemoryStore(clock.Now)
	cfg := testPipelineConfig()
	cfg.AdapterTimeout = 20 * time.Millisecond

	slow := &fakeAdapter{name: "slow", blockOn: make(chan struct{})}
	fast := &fakeAdapter{name: "fast", result: ScrapeResult{Candidates: []models.RawCandidate{
		candidate("fast", "Jazz Night", time.Date(2026, 7, 10, 19, 0, 0, 0, sydney), "Town Hall"),
	}}}

	p, _, _ := newTestPipeline(store, clock, cfg, slow, fast)
	summary, _ := p.Run(context.Background())

	r, _ := summary.Source("slow")
	if !strings.Contains(r.Err, "deadline exceeded") {
		t.Errorf("expected timeout error, got %q", r.Err)
	}
	if f, _ := summary.Source("fast"); f.NewCount != 1 {
		t.Errorf("fast source new = %d, want 1", f.NewCount)
	}
}

func TestPipeline_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	cfg := testPipelineConfig()
	cfg.BreakerFailures = 2
	cfg.BreakerCooldown = time.Hour

	flaky := &fakeAdapter{name: "flaky", err: errors.New("connection refused")}
	p, _, _ := newTestPipeline(NewMemoryStore(clock.Now), clock, cfg, flaky)

	for i := 0; i < 3; i++ {
		if _, err := p.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	if flaky.calls != 2 {
		t.Errorf("adapter called %d times, want 2 before the breaker opened", flaky.calls)
	}
	st := p.Statuses()
	if len(st) != 1 || st[0].BreakerState != "open" {
		t.Errorf("unexpected status: %+v", st)
	}
	if !strings.Contains(st[0].LastError, ErrBreakerOpen.Error()) {
		t.Errorf("last error = %q, want breaker open", st[0].LastError)
	}
}

// cancellingStore cancels the run after a number of inserts.
type cancellingStore struct {
	*MemoryStore
	after  int
	cancel context.CancelFunc
	n      int
}

func (s *cancellingStore) Insert(ctx context.Context, e models.Event) (string, error) {
	id, err := s.MemoryStore.Insert(ctx, e)
	s.n++
	if s.n == s.after {
		s.cancel()
	}
	return id, err
}

func TestPipeline_StopHaltsBetweenRecords(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 20, 9, 0, 0, 0, sydney))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := NewMemoryStore(clock.Now)
	staleID, _ := mem.Insert(context.Background(), models.Event{
		Title:    "Last Month",
		DateTime: clock.Now().Add(-30 * 24 * time.Hour),
		Status:   models.NewStatusSet(models.StatusNew),
	})
	store := &cancellingStore{MemoryStore: mem, after: 1, cancel: cancel}

	base := time.Date(2026, 7, 25, 19, 0, 0, 0, sydney)
	first := &fakeAdapter{name: "first", result: ScrapeResult{Candidates: []models.RawCandidate{
		candidate("first", "Jazz Night", base, "Town Hall"),
		candidate("first", "Open Mic", base.Add(24*time.Hour), "Newtown Social"),
	}}}
	second := &fakeAdapter{name: "second", result: ScrapeResult{Candidates: []models.RawCandidate{
		candidate("second", "Harbour Lights", base, "Circular Quay"),
	}}}

	p, _, _ := newTestPipeline(store, clock, testPipelineConfig(), first, second)
	summary, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !summary.Stopped {
		t.Error("summary should report the stop")
	}
	if summary.TotalNew != 1 {
		t.Errorf("new = %d, want the one record written before the stop", summary.TotalNew)
	}
	if second.calls != 0 {
		t.Error("second source should not run after stop")
	}
	stale, _ := mem.GetByID(context.Background(), staleID)
	if stale.Status.Has(models.StatusInactive) {
		t.Error("sweep should be skipped on a stopped run")
	}
}

func TestPipeline_StopDuringScrapeIsNotAFailure(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 20, 9, 0, 0, 0, sydney))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow := &fakeAdapter{
		name:    "slow",
		blockOn: make(chan struct{}),
		onCall:  func(context.Context) { cancel() },
	}
	p, errs, _ := newTestPipeline(NewMemoryStore(clock.Now), clock, testPipelineConfig(), slow)

	summary, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !summary.Stopped {
		t.Error("summary should report the stop")
	}
	if res, ok := summary.Source("slow"); !ok || res.Err != "" {
		t.Errorf("source result = %+v, want no error", res)
	}
	if n := len(errs.byType(models.ErrorTypeFetchFailed)); n != 0 {
		t.Errorf("recorded %d fetch failures for a stopped scrape", n)
	}
	st := p.Statuses()
	if len(st) != 1 || !st[0].Healthy || st[0].LastError != "" {
		t.Errorf("status changed by stop: %+v", st)
	}
}

func TestPipeline_SweepRunsAfterSources(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 20, 9, 0, 0, 0, sydney))
	store := NewMemoryStore(clock.Now)
	_, _ = store.Insert(context.Background(), models.Event{
		Title:    "Last Month",
		DateTime: clock.Now().Add(-30 * 24 * time.Hour),
		Status:   models.NewStatusSet(models.StatusNew),
	})

	p, _, _ := newTestPipeline(store, clock, testPipelineConfig(), &fakeAdapter{name: "empty"})
	summary, _ := p.Run(context.Background())
	if summary.Inactivated != 1 {
		t.Errorf("inactivated = %d, want 1", summary.Inactivated)
	}

	summary, _ = p.Run(context.Background())
	if summary.Inactivated != 0 {
		t.Errorf("second run inactivated = %d, want 0", summary.Inactivated)
	}
}

func TestPipeline_RunOne(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 7, 1, 9, 0, 0, 0, sydney))
	a := &fakeAdapter{name: "a"}
	b := &fakeAdapter{name: "b"}
	p, _, _ := newTestPipeline(NewMemoryStore(clock.Now), clock, testPipelineConfig(), a, b)

	if _, err := p.RunOne(context.Background(), "b"); err != nil {
		t.Fatalf("RunOne: %v", err)
	}
	if a.calls != 0 || b.calls != 1 {
		t.Errorf("calls a=%d b=%d, want 0/1", a.calls, b.calls)
	}
	if _, err := p.RunOne(context.Background(), "missing"); err == nil {
		t.Error("expected error for unknown source")
	}
}

func TestAggregate(t *testing.T) {
	started := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	results := []models.SourceResult{
		{Source: "a", NewCount: 2, UpdatedCount: 1, SkippedCount: 3, FailedCount: 1},
		{Source: "b", NewCount: 1, SkippedCount: 1, Err: "timeout"},
	}

	s := Aggregate("run-1", started, results, 4, false, 1500*time.Millisecond)
	if s.TotalNew != 3 || s.TotalUpdated != 1 || s.TotalSkipped != 4 || s.TotalFailed != 1 {
		t.Errorf("unexpected totals: %+v", s)
	}
	if s.Inactivated != 4 || s.DurationMs != 1500 || len(s.PerSource) != 2 {
		t.Errorf("unexpected summary: %+v", s)
	}

	results[0].NewCount = 100
	if s.PerSource[0].NewCount != 2 {
		t.Error("summary must not alias the input slice")
	}
}
