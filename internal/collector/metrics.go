package collector

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus series updated after every cycle.
type Metrics struct {
	cycles    *prometheus.CounterVec
	changes   *prometheus.CounterVec
	errors    *prometheus.CounterVec
	duration  prometheus.Histogram
	installed prometheus.Gauge
	lastCycle prometheus.Gauge
}

// NewMetrics registers the collector metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpmannotate_cycles_total",
				Help: "Total number of collection cycles by terminal state",
			},
			[]string{"state"}, // BOOTSTRAPPED, COMPLETED, ABORTED, BUSY
		),
		changes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpmannotate_package_changes_total",
				Help: "Package changes detected, by kind",
			},
			[]string{"kind"}, // added, removed, changed
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rpmannotate_errors_total",
				Help: "Errors recorded during cycles, by classification",
			},
			[]string{"code"},
		),
		duration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rpmannotate_cycle_duration_seconds",
				Help:    "Time taken by one collection cycle",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
		),
		installed: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "rpmannotate_installed_packages",
				Help: "Number of packages in the last enumerated snapshot",
			},
		),
		lastCycle: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "rpmannotate_last_cycle_timestamp_seconds",
				Help: "Unix time the last cycle finished",
			},
		),
	}
}

// Observe records a finished cycle. A nil Metrics ignores it.
func (m *Metrics) Observe(o *Outcome) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(string(o.State)).Inc()
	m.duration.Observe(o.Duration().Seconds())
	m.lastCycle.Set(float64(o.FinishedAt.Unix()))

	if o.State == StateCompleted && !o.DryRun {
		m.changes.WithLabelValues("added").Add(float64(o.Added))
		m.changes.WithLabelValues("removed").Add(float64(o.Removed))
		m.changes.WithLabelValues("changed").Add(float64(o.Changed))
	}
	if o.State == StateCompleted || o.State == StateBootstrapped {
		m.installed.Set(float64(o.Installed))
	}
	for _, code := range o.Codes() {
		m.errors.WithLabelValues(string(code)).Inc()
	}
}
