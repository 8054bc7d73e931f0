package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Resolution outcomes recorded per node.
const (
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
)

// Metrics collects Prometheus metrics for hive resolution. All record
// methods are safe on a nil receiver, which acts as a no-op collector.
type Metrics struct {
	registry *prometheus.Registry

	nodesResolved      *prometheus.CounterVec
	violationsFound    prometheus.Counter
	warningsEmitted    prometheus.Counter
	packageSetResolves *prometheus.CounterVec
	selectionsBuilt    prometheus.Counter
	resolveDuration    prometheus.Histogram
}

// Package-set resolution sources.
const (
	PackageSetComputed = "computed"
	PackageSetCached   = "cached"
)

// NewMetrics creates a metrics collector. When cfg.Enabled is false it
// returns nil, which every record method accepts.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "apiary"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		nodesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_resolved_total",
			Help:      "Number of node resolutions by outcome.",
		}, []string{"outcome"}),
		violationsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "violations_total",
			Help:      "Number of option violations reported during resolution.",
		}),
		warningsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "warnings_total",
			Help:      "Number of non-fatal warnings emitted during resolution.",
		}),
		packageSetResolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "package_set_resolutions_total",
			Help:      "Number of package-set resolutions by source.",
		}, []string{"source"}),
		selectionsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_built_total",
			Help:      "Number of selection bundles built.",
		}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_resolve_duration_seconds",
			Help:      "Wall-clock duration of individual node resolutions.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.nodesResolved,
		m.violationsFound,
		m.warningsEmitted,
		m.packageSetResolves,
		m.selectionsBuilt,
		m.resolveDuration,
	}
	for _, c := range collectors {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// NodeResolved records the outcome of a single node resolution.
func (m *Metrics) NodeResolved(outcome string) {
	if m == nil {
		return
	}
	m.nodesResolved.WithLabelValues(outcome).Inc()
}

// ViolationsFound records option violations reported during resolution.
func (m *Metrics) ViolationsFound(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.violationsFound.Add(float64(n))
}

// WarningsEmitted records non-fatal warnings emitted during resolution.
func (m *Metrics) WarningsEmitted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.warningsEmitted.Add(float64(n))
}

// PackageSetResolved records a package-set resolution and whether it was
// served from the memoization cache.
func (m *Metrics) PackageSetResolved(source string) {
	if m == nil {
		return
	}
	m.packageSetResolves.WithLabelValues(source).Inc()
}

// SelectionBuilt records a completed selection bundle.
func (m *Metrics) SelectionBuilt() {
	if m == nil {
		return
	}
	m.selectionsBuilt.Inc()
}

// ObserveResolveDuration records the duration of a node resolution in
// seconds.
func (m *Metrics) ObserveResolveDuration(seconds float64) {
	if m == nil {
		return
	}
	m.resolveDuration.Observe(seconds)
}

// Handler returns an HTTP handler serving the collected metrics. A nil
// collector serves an empty registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
