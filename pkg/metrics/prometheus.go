package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	fitsTotal    *prometheus.CounterVec
	skippedSteps *prometheus.CounterVec
	pathsTotal   prometheus.Counter
	errorsTotal  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the recorder on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		fitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimesim_regime_fits_total",
				Help: "Regimes fitted, by outcome",
			},
			[]string{"outcome"},
		),
		skippedSteps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimesim_skipped_steps_total",
				Help: "Simulation steps left undefined, by skip code",
			},
			[]string{"code"},
		),
		pathsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "regimesim_paths_generated_total",
				Help: "Total number of scenario paths generated",
			},
		),
		errorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "regimesim_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "regimesim_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordFit adds regimes to the fit counter of an outcome.
func (r *Recorder) RecordFit(outcome string, regimes int) {
	r.fitsTotal.WithLabelValues(outcome).Add(float64(regimes))
}

// RecordSkippedSteps records steps skipped under a skip code.
func (r *Recorder) RecordSkippedSteps(code string, steps int) {
	r.skippedSteps.WithLabelValues(code).Add(float64(steps))
}

// RecordPaths records generated paths.
func (r *Recorder) RecordPaths(paths int) {
	r.pathsTotal.Add(float64(paths))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
