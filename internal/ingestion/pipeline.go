package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/metrics"
	"github.com/citypulse/citypulse/internal/models"
)

// Source pairs an adapter with the defaults used to normalize its output.
type Source struct {
	Adapter Adapter
	Profile SourceProfile
}

// ErrorRecorder persists recovered failures.
type ErrorRecorder interface {
	RecordError(ctx context.Context, rec models.IngestionError) error
}

// PipelineConfig holds configuration for the ingestion pipeline.
type PipelineConfig struct {
	AdapterTimeout  time.Duration
	StoreTimeout    time.Duration
	MatchWindow     time.Duration
	InactiveAfter   time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// DefaultPipelineConfig returns sensible defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		AdapterTimeout:  30 * time.Second,
		StoreTimeout:    10 * time.Second,
		MatchWindow:     DefaultMatchWindow,
		InactiveAfter:   DefaultInactiveAfter,
		BreakerFailures: 3,
		BreakerCooldown: time.Hour,
	}
}

// PipelineConfigFromScraper maps the environment configuration.
func PipelineConfigFromScraper(cfg config.ScraperConfig) PipelineConfig {
	return PipelineConfig{
		AdapterTimeout:  cfg.AdapterTimeout,
		StoreTimeout:    cfg.StoreTimeout,
		MatchWindow:     cfg.MatchWindow,
		InactiveAfter:   cfg.InactiveAfter,
		BreakerFailures: cfg.BreakerFailures,
		BreakerCooldown: cfg.BreakerCooldown,
	}
}

// PipelineDeps are the collaborators of a pipeline. Only Store is required.
type PipelineDeps struct {
	Store     EventStore
	Errors    ErrorRecorder
	Reporters []RunReporter
	Metrics   *metrics.Collector
	Logger    *slog.Logger
	Now       func() time.Time
}

// Pipeline runs every source in order, reconciles candidates into the store
// and sweeps stale records.
type Pipeline struct {
	sources    []Source
	breakers   map[string]*gobreaker.CircuitBreaker[ScrapeResult]
	store      EventStore
	normalizer *Normalizer
	merger     *MergeEngine
	sweeper    *Sweeper
	errors     ErrorRecorder
	reporters  []RunReporter
	metrics    *metrics.Collector
	logger     *slog.Logger
	config     PipelineConfig
	now        func() time.Time

	mu     sync.RWMutex
	status map[string]*AdapterStatus
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(sources []Source, deps PipelineDeps, cfg PipelineConfig) *Pipeline {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Pipeline{
		sources:    sources,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[ScrapeResult], len(sources)),
		store:      deps.Store,
		normalizer: NewNormalizer(logger, deps.Metrics, now),
		merger:     NewMergeEngine(deps.Store, NewMatcher(deps.Store, cfg.MatchWindow), now),
		sweeper:    NewSweeper(deps.Store, cfg.InactiveAfter, now),
		errors:     deps.Errors,
		reporters:  deps.Reporters,
		metrics:    deps.Metrics,
		logger:     logger,
		config:     cfg,
		now:        now,
		status:     make(map[string]*AdapterStatus, len(sources)),
	}

	for _, src := range sources {
		name := src.Adapter.Name()
		p.breakers[name] = newSourceBreaker(name, cfg.BreakerFailures, cfg.BreakerCooldown, logger, deps.Metrics)
		p.status[name] = &AdapterStatus{Name: name, Healthy: true, BreakerState: "closed"}
	}

	return p
}

// Run performs one full ingestion run. Cancelling ctx stops the run before
// the next record or source; the record operation in flight completes. The
// returned summary has Stopped set in that case and the sweep is skipped.
func (p *Pipeline) Run(ctx context.Context) (models.RunSummary, error) {
	runID := uuid.New().String()
	started := p.now()

	p.logger.Info("ingestion run starting", "run_id", runID, "sources", len(p.sources))

	results := make([]models.SourceResult, 0, len(p.sources))
	stopped := false
	for _, src := range p.sources {
		if ctx.Err() != nil {
			stopped = true
			break
		}
		results = append(results, p.runSource(ctx, runID, src))
		if ctx.Err() != nil {
			stopped = true
			break
		}
	}

	var inactivated int64
	if !stopped {
		sweepCtx, cancel := p.storeContext(ctx)
		n, err := p.sweeper.Sweep(sweepCtx)
		cancel()
		if err != nil {
			p.logger.Error("lifecycle sweep failed", "run_id", runID, "error", err)
			p.recordError(ctx, runID, "", models.ErrorTypeSweepFailed, "", err, nil)
		} else {
			inactivated = n
			p.logger.Info("lifecycle sweep complete", "run_id", runID, "inactivated", n)
		}
	} else {
		p.logger.Warn("ingestion run stopped before completion", "run_id", runID, "sources_run", len(results))
	}

	summary := Aggregate(runID, started, results, inactivated, stopped, p.now().Sub(started))
	p.report(ctx, summary)
	return summary, nil
}

// RunOne runs a single named source without the lifecycle sweep.
func (p *Pipeline) RunOne(ctx context.Context, name string) (models.SourceResult, error) {
	for _, src := range p.sources {
		if src.Adapter.Name() == name {
			return p.runSource(ctx, uuid.New().String(), src), nil
		}
	}
	return models.SourceResult{}, fmt.Errorf("source not found: %s", name)
}

// SourceNames lists the configured sources in run order.
func (p *Pipeline) SourceNames() []string {
	names := make([]string, len(p.sources))
	for i, src := range p.sources {
		names[i] = src.Adapter.Name()
	}
	return names
}

// Statuses returns the last observed state of every source.
func (p *Pipeline) Statuses() []AdapterStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]AdapterStatus, 0, len(p.sources))
	for _, src := range p.sources {
		st := *p.status[src.Adapter.Name()]
		st.BreakerState = p.breakers[st.Name].State().String()
		out = append(out, st)
	}
	return out
}

func (p *Pipeline) runSource(ctx context.Context, runID string, src Source) models.SourceResult {
	name := src.Adapter.Name()
	start := p.now()
	result := models.SourceResult{Source: name}

	p.logger.Info("scraping source", "run_id", runID, "source", name)

	scraped, scrapeErr := p.scrape(ctx, src)
	result.Fetched = len(scraped.Candidates)

	for _, rejected := range scraped.Rejected {
		result.FailedCount++
		p.metrics.ObserveOutcome(name, "failed")
		p.logger.Warn("card rejected", "run_id", runID, "source", name, "error", rejected)
		var extractErr *ExtractionError
		link := ""
		if errors.As(rejected, &extractErr) {
			link = extractErr.Link
		}
		p.recordError(ctx, runID, name, models.ErrorTypeExtractionFailed, link, rejected, nil)
	}

	interrupted := scrapeErr != nil && ctx.Err() != nil && errors.Is(scrapeErr, context.Canceled)
	if interrupted {
		p.logger.Info("source scrape interrupted by stop",
			"run_id", runID,
			"source", name,
			"partial_candidates", len(scraped.Candidates),
		)
	} else if scrapeErr != nil {
		result.Err = scrapeErr.Error()
		p.metrics.SourceFailed(name, failureKind(scrapeErr))
		p.logger.Warn("source fetch failed",
			"run_id", runID,
			"source", name,
			"partial_candidates", len(scraped.Candidates),
			"error", scrapeErr,
		)
		url := ""
		var fetchErr *TransientFetchError
		if errors.As(scrapeErr, &fetchErr) {
			url = fetchErr.URL
		}
		p.recordError(ctx, runID, name, models.ErrorTypeFetchFailed, url, scrapeErr, nil)
	}

	for _, cand := range scraped.Candidates {
		if ctx.Err() != nil {
			break
		}

		event, err := p.normalizer.Normalize(src.Profile, cand)
		if err != nil {
			result.FailedCount++
			p.metrics.ObserveOutcome(name, "failed")
			p.logger.Warn("candidate rejected", "run_id", runID, "source", name, "error", err)
			p.recordError(ctx, runID, name, models.ErrorTypeExtractionFailed, cand.Link, err, map[string]any{"title": cand.Title})
			continue
		}

		storeCtx, cancel := p.storeContext(ctx)
		outcome, id, err := p.merger.Merge(storeCtx, event)
		cancel()
		if err != nil {
			result.FailedCount++
			p.metrics.ObserveOutcome(name, "failed")
			p.logger.Error("failed to save event", "run_id", runID, "source", name, "title", event.Title, "error", err)
			p.recordError(ctx, runID, name, models.ErrorTypePersistenceFailed, event.OriginalURL, err, map[string]any{"title": event.Title})
			continue
		}

		switch outcome {
		case OutcomeCreated:
			result.NewCount++
		case OutcomeUpdated:
			result.UpdatedCount++
		case OutcomeUnchanged:
			result.SkippedCount++
		}
		p.metrics.ObserveOutcome(name, outcome.String())
		p.logger.Debug("event merged", "source", name, "event_id", id, "outcome", outcome.String())
	}

	result.Duration = p.now().Sub(start)
	if interrupted {
		p.updateStatus(name, result, nil, true)
	} else {
		p.updateStatus(name, result, scrapeErr, false)
	}
	return result
}

// scrape calls the adapter behind its breaker with the per-adapter timeout.
// Panics become errors and every failure is a *TransientFetchError.
func (p *Pipeline) scrape(ctx context.Context, src Source) (ScrapeResult, error) {
	name := src.Adapter.Name()
	res, err := p.breakers[name].Execute(func() (ScrapeResult, error) {
		adapterCtx, cancel := context.WithTimeout(ctx, p.config.AdapterTimeout)
		defer cancel()
		return safeScrape(adapterCtx, src.Adapter)
	})
	if err == nil {
		return res, nil
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ScrapeResult{}, &TransientFetchError{Source: name, Err: fmt.Errorf("%w: %w", ErrBreakerOpen, err)}
	}

	var fetchErr *TransientFetchError
	if !errors.As(err, &fetchErr) {
		err = &TransientFetchError{Source: name, Err: err}
	}
	return res, err
}

func safeScrape(ctx context.Context, a Adapter) (res ScrapeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return a.Scrape(ctx)
}

// storeContext detaches store writes from run cancellation so a stop request
// never interrupts a record mutation halfway.
func (p *Pipeline) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := p.config.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultPipelineConfig().StoreTimeout
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (p *Pipeline) recordError(ctx context.Context, runID, source string, kind models.IngestionErrorType, url string, cause error, meta map[string]any) {
	if p.errors == nil {
		return
	}

	metadata := "{}"
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			metadata = string(b)
		}
	}

	rec := models.IngestionError{
		ID:        uuid.New().String(),
		RunID:     runID,
		Source:    source,
		ErrorType: string(kind),
		URL:       url,
		ErrorMsg:  cause.Error(),
		Metadata:  metadata,
		CreatedAt: p.now(),
	}

	storeCtx, cancel := p.storeContext(ctx)
	defer cancel()
	if err := p.errors.RecordError(storeCtx, rec); err != nil {
		p.logger.Error("failed to record ingestion error", "source", source, "error", err)
	}
}

func (p *Pipeline) report(ctx context.Context, summary models.RunSummary) {
	for _, r := range p.reporters {
		reportCtx, cancel := p.storeContext(ctx)
		if err := r.ReportRun(reportCtx, summary); err != nil {
			p.logger.Error("run reporter failed", "run_id", summary.RunID, "error", err)
		}
		cancel()
	}
}

// updateStatus folds one source result into its status. An interrupted
// scrape leaves the health fields as they were.
func (p *Pipeline) updateStatus(name string, result models.SourceResult, err error, interrupted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.status[name]
	st.LastRun = p.now()
	st.TotalFetched += int64(result.Fetched)
	st.TotalErrors += int64(result.FailedCount)
	switch {
	case interrupted:
	case err != nil:
		st.Healthy = false
		st.LastError = err.Error()
		st.TotalErrors++
	default:
		st.Healthy = true
		st.LastError = ""
	}
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrBreakerOpen):
		return "breaker_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "fetch"
	}
}
