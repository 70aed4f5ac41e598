// Registers:
//
//	#stockquote_tier_attempts_total{tier,outcome}
//	#stockquote_field_quality_total{field,quality}
//	#stockquote_quote_duration_seconds
//	#go_* and process_* system metrics
//
// The registry is owned by the Recorder so tests and the server do not share
// global state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockquote/internal/provider"
)

// Tier outcomes.
const (
	OutcomeHit     = "hit"     // produced at least one missing field
	OutcomeMiss    = "miss"    // answered, but nothing usable
	OutcomeError   = "error"   // upstream failure
	OutcomeSkipped = "skipped" // not needed, earlier tiers were enough
)

type Recorder struct {
	registry     *prometheus.Registry
	tierAttempts *prometheus.CounterVec
	fieldQuality *prometheus.CounterVec
	duration     prometheus.Histogram
}

// New creates a Recorder with its own registry, including the Go and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		tierAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockquote_tier_attempts_total",
				Help: "Acquisition tier attempts by outcome",
			},
			[]string{"tier", "outcome"},
		),
		fieldQuality: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockquote_field_quality_total",
				Help: "Returned quote fields by the tier that produced them",
			},
			[]string{"field", "quality"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockquote_quote_duration_seconds",
			Help:    "Time to assemble one quote across all tiers",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 40},
		}),
	}
	r.registry.MustRegister(
		r.tierAttempts,
		r.fieldQuality,
		r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Tier counts one attempt of a tier. Safe on a nil Recorder.
func (r *Recorder) Tier(tier, outcome string) {
	if r == nil {
		return
	}
	r.tierAttempts.WithLabelValues(tier, outcome).Inc()
}

// Quote records the field provenance of a finished result and how long it
// took.
func (r *Recorder) Quote(res provider.QuoteResult, took time.Duration) {
	if r == nil {
		return
	}
	for _, f := range provider.Fields {
		q, ok := res.FieldQuality[f]
		if !ok {
			q = provider.Unavailable
		}
		r.fieldQuality.WithLabelValues(string(f), string(q)).Inc()
	}
	r.duration.Observe(took.Seconds())
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
