// Package metrics holds the prometheus collectors for content generation.
// They are registered on a private registry served by Handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes.
const (
	OutcomeReady   = "ready"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped"
)

// Generation passes.
const (
	PassCore  = "core"
	PassFresh = "fresh"
)

var (
	GenerationRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityscope_generation_runs_total",
			Help: "Completed generation runs by outcome.",
		},
		[]string{"outcome"},
	)

	GenerationFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityscope_generation_fallbacks_total",
			Help: "Passes whose output was unusable and replaced by a fallback.",
		},
		[]string{"pass"},
	)

	GenerationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cityscope_generation_duration_seconds",
			Help:    "Wall time of a generation run in seconds.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		},
	)

	GenerationSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cityscope_generation_skipped_total",
			Help: "Triggers ignored because a run for the same city was in flight.",
		},
	)

	FreshRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityscope_fresh_refresh_total",
			Help: "Scheduled refreshes of news and events by outcome.",
		},
		[]string{"outcome"},
	)
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(Collectors()...)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Collectors returns the application collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		GenerationRuns,
		GenerationFallbacks,
		GenerationDuration,
		GenerationSkipped,
		FreshRefresh,
	}
}

// Handler serves the registry in the prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Inc increments the given counter by 1.
func Inc(counter prometheus.Counter) { counter.Inc() }
