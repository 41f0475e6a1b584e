// Package metrics records simulation and fitting counters on a private
// Prometheus registry. The registry can be dumped to a node-exporter
// textfile after a batch completes.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Fit outcome labels.
const (
	StatusConverged = "converged"
	StatusFailed    = "failed"
)

// Recorder owns the monosim collectors. A nil *Recorder is safe to use;
// every method is a no-op on nil receiver.
type Recorder struct {
	registry *prometheus.Registry

	replicates  prometheus.Counter
	divisions   prometheus.Counter
	generations prometheus.Counter
	events      *prometheus.CounterVec
	duration    prometheus.Histogram
	fits        *prometheus.CounterVec
}

// New creates a Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		replicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monosim_replicates_total",
			Help: "Completed population expansions",
		}),
		divisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monosim_divisions_total",
			Help: "Cell divisions performed across all replicates",
		}),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monosim_generations_total",
			Help: "Generations simulated across all replicates",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monosim_events_total",
			Help: "Mutation events by kind",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "monosim_replicate_duration_seconds",
			Help:    "Wall-clock time of one population expansion",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		}),
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monosim_fits_total",
			Help: "Fluctuation assay fits by model, mutant class and outcome",
		}, []string{"model", "mutant", "status"}),
	}
	reg.MustRegister(r.replicates, r.divisions, r.generations, r.events, r.duration, r.fits)
	return r
}

// Registry exposes the underlying registry, e.g. for promhttp or tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveGeneration adds one generation and its divisions.
func (r *Recorder) ObserveGeneration(divisions int) {
	if r == nil {
		return
	}
	r.generations.Inc()
	r.divisions.Add(float64(divisions))
}

// ObserveEvent counts a mutation event of the given kind ("monosome", "revert").
func (r *Recorder) ObserveEvent(kind string) {
	if r == nil {
		return
	}
	r.events.WithLabelValues(kind).Inc()
}

// ObserveReplicate records a finished expansion.
func (r *Recorder) ObserveReplicate(d time.Duration) {
	if r == nil {
		return
	}
	r.replicates.Inc()
	r.duration.Observe(d.Seconds())
}

// ObserveFit records a fit outcome.
func (r *Recorder) ObserveFit(model, mutant string, converged bool) {
	if r == nil {
		return
	}
	status := StatusFailed
	if converged {
		status = StatusConverged
	}
	r.fits.WithLabelValues(model, mutant, status).Inc()
}

// WriteTextfile writes the registry in Prometheus text format to path,
// atomically, for the node-exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics textfile: %w", err)
	}
	return nil
}
