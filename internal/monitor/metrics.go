package monitor

import (
	"time"

	"github.com/mExOms/sor/internal/router"
	"github.com/mExOms/sor/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sor"

// RoutingMetrics exports routing activity to Prometheus. It implements
// router.Observer.
type RoutingMetrics struct {
	decisions       *prometheus.CounterVec
	failures        *prometheus.CounterVec
	venueAllocation *prometheus.CounterVec
	routeDuration   prometheus.Histogram
	confidence      prometheus.Histogram
	riskScore       prometheus.Histogram
	staleUpdates    prometheus.Counter
	perfSamples     *prometheus.CounterVec
}

// NewRoutingMetrics registers the routing collectors with reg
func NewRoutingMetrics(reg prometheus.Registerer) *RoutingMetrics {
	factory := promauto.With(reg)

	return &RoutingMetrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "decisions_total",
				Help:      "Routing decisions produced",
			},
			[]string{"algorithm", "path"},
		),
		failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "failures_total",
				Help:      "Routing calls that failed, by error kind",
			},
			[]string{"kind"},
		),
		venueAllocation: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "venue_allocations_total",
				Help:      "Allocations handed to each venue",
			},
			[]string{"venue"},
		),
		routeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "route_duration_seconds",
				Help:      "Time spent producing a routing decision",
				Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .025},
			},
		),
		confidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "decision_confidence",
				Help:      "Confidence of produced decisions",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		riskScore: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "router",
				Name:      "decision_risk_score",
				Help:      "Risk score of produced decisions",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
			},
		),
		staleUpdates: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "stale_metric_updates_total",
				Help:      "Venue metric pushes ignored because they were older than the stored metrics",
			},
		),
		perfSamples: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "performance_samples_total",
				Help:      "Algorithm performance samples recorded",
			},
			[]string{"algorithm"},
		),
	}
}

// ObserveRoute implements router.Observer
func (m *RoutingMetrics) ObserveRoute(_ types.OrderContext, d *router.RoutingDecision, err error, elapsed time.Duration) {
	m.routeDuration.Observe(elapsed.Seconds())
	if err != nil {
		m.failures.WithLabelValues(router.ErrorKind(err)).Inc()
		return
	}

	path := "rule"
	if d.UsedDefault() {
		path = "default"
	}
	m.decisions.WithLabelValues(d.AlgorithmID, path).Inc()
	m.confidence.Observe(d.Confidence)
	m.riskScore.Observe(d.RiskScore)
	for _, a := range d.Allocations {
		m.venueAllocation.WithLabelValues(a.VenueID).Inc()
	}
}

// StaleUpdate counts an ignored out-of-order metric push
func (m *RoutingMetrics) StaleUpdate() {
	m.staleUpdates.Inc()
}

// PerformanceSample counts a recorded execution sample
func (m *RoutingMetrics) PerformanceSample(algorithmID string) {
	m.perfSamples.WithLabelValues(algorithmID).Inc()
}
