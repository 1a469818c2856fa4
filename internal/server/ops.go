package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/citypulse/citypulse/internal/ingestion"
	"github.com/citypulse/citypulse/internal/metrics"
	"github.com/citypulse/citypulse/internal/scheduler"
)

// HealthFunc reports whether a dependency is reachable.
type HealthFunc func(ctx context.Context) error

// StatusProvider exposes per-source adapter health.
type StatusProvider interface {
	Statuses() []ingestion.AdapterStatus
}

// SchedulerStatus exposes the scheduler state machine.
type SchedulerStatus interface {
	Status() scheduler.Status
}

// ErrorCounter reports how many ingestion errors still need triage.
type ErrorCounter interface {
	CountUnresolved(ctx context.Context) (int, error)
}

// OpsDeps are the collaborators behind the ops endpoints. Any may be nil.
type OpsDeps struct {
	Metrics   *metrics.Collector
	Health    HealthFunc
	Pipeline  StatusProvider
	Scheduler SchedulerStatus
	Errors    ErrorCounter
	Logger    *slog.Logger
}

// NewOpsHandler routes /metrics, /healthz and /status.
func NewOpsHandler(deps OpsDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	mux := http.NewServeMux()
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			defer cancel()
			if err := deps.Health(ctx); err != nil {
				deps.Logger.Warn("health check failed", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		if deps.Scheduler != nil {
			body["scheduler"] = deps.Scheduler.Status()
		}
		if deps.Pipeline != nil {
			body["sources"] = deps.Pipeline.Statuses()
		}
		if deps.Errors != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
			n, err := deps.Errors.CountUnresolved(ctx)
			cancel()
			if err != nil {
				deps.Logger.Warn("failed to count unresolved ingestion errors", "error", err)
			} else {
				body["unresolved_errors"] = n
			}
		}
		writeJSON(w, http.StatusOK, body)
	})

	if deps.Metrics != nil {
		return deps.Metrics.InstrumentHandler(mux)
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
