package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/citypulse/citypulse/internal/metrics"
)

// newSourceBreaker opens after maxFailures consecutive failed runs of one
// source and lets a single trial run through after cooldown. A scrape
// cancelled by a stop request does not count as a failure.
func newSourceBreaker(source string, maxFailures uint32, cooldown time.Duration, logger *slog.Logger, collector *metrics.Collector) *gobreaker.CircuitBreaker[ScrapeResult] {
	if maxFailures == 0 {
		maxFailures = 1
	}

	collector.BreakerState(source, stateToInt(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[ScrapeResult](gobreaker.Settings{
		Name:        source,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("source breaker state change",
				"source", name,
				"from", from.String(),
				"to", to.String(),
			)
			collector.BreakerState(name, stateToInt(to))
		},
	})
}

func stateToInt(state gobreaker.State) int {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
