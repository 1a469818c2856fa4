package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "citypulse"

// Collector owns a private registry with the ingestion pipeline metrics and
// the ops listener's HTTP metrics. All recording methods are safe to call on
// a nil *Collector.
type Collector struct {
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	ingestEvents    *prometheus.CounterVec
	sourceFailures  *prometheus.CounterVec
	runDuration     prometheus.Histogram
	runsTotal       *prometheus.CounterVec
	skippedTriggers prometheus.Counter
	sweepInactive   prometheus.Counter
	dateEstimated   *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
}

// NewCollector constructs a collector and registers every metric.
func NewCollector() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution for ops listener requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of ops listener requests.",
		}, []string{"method", "path", "status"}),
		ingestEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Candidates processed by the merge engine, by source and outcome.",
		}, []string{"source", "outcome"}),
		sourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "source_failures_total",
			Help:      "Adapter-level failures, by source and error kind.",
		}, []string{"source", "kind"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a full ingestion run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Completed ingestion runs, by result.",
		}, []string{"result"}),
		skippedTriggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "skipped_triggers_total",
			Help:      "Triggers dropped because a run was already in progress.",
		}),
		sweepInactive: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "inactive_total",
			Help:      "Records labelled inactive by the lifecycle sweeper.",
		}),
		dateEstimated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalize",
			Name:      "date_estimated_total",
			Help:      "Candidates whose date could not be parsed and was set to the scrape time.",
		}, []string{"source"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "breaker_state",
			Help:      "Circuit breaker state per source (0 closed, 1 half-open, 2 open).",
		}, []string{"source"}),
	}

	collectors := []prometheus.Collector{
		c.requestDuration, c.requestTotal,
		c.ingestEvents, c.sourceFailures, c.runDuration, c.runsTotal,
		c.skippedTriggers, c.sweepInactive, c.dateEstimated, c.breakerState,
	}
	for _, col := range collectors {
		if err := c.registry.Register(col); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler to record HTTP metrics.
func (c *Collector) InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(rw.status)
		path := r.URL.Path

		c.requestTotal.WithLabelValues(r.Method, path, status).Inc()
		c.requestDuration.WithLabelValues(r.Method, path, status).Observe(duration)
	})
}

// ObserveOutcome counts one merge outcome ("new", "updated", "skipped" or
// "failed") for source.
func (c *Collector) ObserveOutcome(source, outcome string) {
	if c == nil {
		return
	}
	c.ingestEvents.WithLabelValues(source, outcome).Inc()
}

// SourceFailed counts an adapter-level failure.
func (c *Collector) SourceFailed(source, kind string) {
	if c == nil {
		return
	}
	c.sourceFailures.WithLabelValues(source, kind).Inc()
}

// ObserveRun records a finished run. result is "completed" or "stopped".
func (c *Collector) ObserveRun(result string, d time.Duration) {
	if c == nil {
		return
	}
	c.runsTotal.WithLabelValues(result).Inc()
	c.runDuration.Observe(d.Seconds())
}

// TriggerSkipped counts a trigger that found a run in progress.
func (c *Collector) TriggerSkipped() {
	if c == nil {
		return
	}
	c.skippedTriggers.Inc()
}

// Inactivated adds n sweeper transitions.
func (c *Collector) Inactivated(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.sweepInactive.Add(float64(n))
}

// DateEstimated counts a candidate whose date fell back to the scrape time.
func (c *Collector) DateEstimated(source string) {
	if c == nil {
		return
	}
	c.dateEstimated.WithLabelValues(source).Inc()
}

// BreakerState publishes the numeric breaker state for source.
func (c *Collector) BreakerState(source string, state int) {
	if c == nil {
		return
	}
	c.breakerState.WithLabelValues(source).Set(float64(state))
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
