package router

import (
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

// PerformanceMetrics summarises routing activity
type PerformanceMetrics struct {
	TotalOrders        int64                        `json:"total_orders"`
	RoutedOrders       int64                        `json:"routed_orders"`
	FailedOrders       int64                        `json:"failed_orders"`
	DefaultPathOrders  int64                        `json:"default_path_orders"`
	TotalVolume        decimal.Decimal              `json:"total_volume"`
	AverageConfidence  float64                      `json:"average_confidence"`
	AverageRiskScore   float64                      `json:"average_risk_score"`
	AverageRoutingTime time.Duration                `json:"average_routing_time"`
	FailuresByKind     map[string]int64             `json:"failures_by_kind"`
	VenueDistribution  map[string]int64             `json:"venue_distribution"`
	VenueVolume        map[string]decimal.Decimal   `json:"venue_volume"`
	AlgorithmUsage     map[string]*AlgorithmMetrics `json:"algorithm_usage"`
	RuleHits           map[string]int64             `json:"rule_hits"`
}

// AlgorithmMetrics tracks decisions per algorithm
type AlgorithmMetrics struct {
	OrderCount        int64   `json:"order_count"`
	AverageConfidence float64 `json:"average_confidence"`
	AverageVenues     float64 `json:"average_venues"`
}

// HourlyStats tracks routing activity within one hour
type HourlyStats struct {
	Hour         time.Time                  `json:"hour"`
	OrderCount   int64                      `json:"order_count"`
	FailedCount  int64                      `json:"failed_count"`
	TotalVolume  decimal.Decimal            `json:"total_volume"`
	VenueVolumes map[string]decimal.Decimal `json:"venue_volumes"`
}

// maxClockSkew is how far ahead of the local clock an order timestamp may be
// and still move the retention cutoff
const maxClockSkew = time.Hour

// PerformanceTracker aggregates routing outcomes. It implements Observer.
// Hourly buckets are keyed by order timestamp and pruned relative to the
// newest plausible timestamp seen.
type PerformanceTracker struct {
	mu          sync.RWMutex
	metrics     *PerformanceMetrics
	hourlyStats map[int64]*HourlyStats // Unix hour -> stats
	retention   time.Duration
	latest      time.Time
	now         func() time.Time
}

// NewPerformanceTracker creates a tracker keeping hourly stats for retention
func NewPerformanceTracker(retention time.Duration) *PerformanceTracker {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &PerformanceTracker{
		metrics:     newPerformanceMetrics(),
		hourlyStats: make(map[int64]*HourlyStats),
		retention:   retention,
		now:         time.Now,
	}
}

func newPerformanceMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{
		FailuresByKind:    make(map[string]int64),
		VenueDistribution: make(map[string]int64),
		VenueVolume:       make(map[string]decimal.Decimal),
		AlgorithmUsage:    make(map[string]*AlgorithmMetrics),
		RuleHits:          make(map[string]int64),
	}
}

// ObserveRoute implements Observer
func (pt *PerformanceTracker) ObserveRoute(order types.OrderContext, decision *RoutingDecision, err error, elapsed time.Duration) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.metrics.TotalOrders++
	pt.metrics.AverageRoutingTime = runningDuration(pt.metrics.AverageRoutingTime, elapsed, pt.metrics.TotalOrders)

	pt.advance(order.Timestamp)
	stats := pt.hourFor(order.Timestamp)
	stats.OrderCount++

	if err != nil {
		pt.metrics.FailedOrders++
		pt.metrics.FailuresByKind[ErrorKind(err)]++
		stats.FailedCount++
		return
	}

	pt.metrics.RoutedOrders++
	n := pt.metrics.RoutedOrders
	pt.metrics.TotalVolume = pt.metrics.TotalVolume.Add(decision.Quantity)
	pt.metrics.AverageConfidence = runningAverage(pt.metrics.AverageConfidence, decision.Confidence, n)
	pt.metrics.AverageRiskScore = runningAverage(pt.metrics.AverageRiskScore, decision.RiskScore, n)
	stats.TotalVolume = stats.TotalVolume.Add(decision.Quantity)

	if decision.UsedDefault() {
		pt.metrics.DefaultPathOrders++
	} else {
		pt.metrics.RuleHits[decision.RuleID]++
	}

	for _, a := range decision.Allocations {
		pt.metrics.VenueDistribution[a.VenueID]++
		pt.metrics.VenueVolume[a.VenueID] = pt.metrics.VenueVolume[a.VenueID].Add(a.EstimatedFill)
		stats.VenueVolumes[a.VenueID] = stats.VenueVolumes[a.VenueID].Add(a.EstimatedFill)
	}

	am, exists := pt.metrics.AlgorithmUsage[decision.AlgorithmID]
	if !exists {
		am = &AlgorithmMetrics{}
		pt.metrics.AlgorithmUsage[decision.AlgorithmID] = am
	}
	am.OrderCount++
	am.AverageConfidence = runningAverage(am.AverageConfidence, decision.Confidence, am.OrderCount)
	am.AverageVenues = runningAverage(am.AverageVenues, float64(len(decision.Allocations)), am.OrderCount)
}

// GetMetrics returns a copy of the current metrics
func (pt *PerformanceTracker) GetMetrics() *PerformanceMetrics {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	m := newPerformanceMetrics()
	m.TotalOrders = pt.metrics.TotalOrders
	m.RoutedOrders = pt.metrics.RoutedOrders
	m.FailedOrders = pt.metrics.FailedOrders
	m.DefaultPathOrders = pt.metrics.DefaultPathOrders
	m.TotalVolume = pt.metrics.TotalVolume
	m.AverageConfidence = pt.metrics.AverageConfidence
	m.AverageRiskScore = pt.metrics.AverageRiskScore
	m.AverageRoutingTime = pt.metrics.AverageRoutingTime

	for k, v := range pt.metrics.FailuresByKind {
		m.FailuresByKind[k] = v
	}
	for k, v := range pt.metrics.VenueDistribution {
		m.VenueDistribution[k] = v
	}
	for k, v := range pt.metrics.VenueVolume {
		m.VenueVolume[k] = v
	}
	for k, v := range pt.metrics.RuleHits {
		m.RuleHits[k] = v
	}
	for k, v := range pt.metrics.AlgorithmUsage {
		c := *v
		m.AlgorithmUsage[k] = &c
	}
	return m
}

// GetHourlyStats returns a copy of the stats for the hour containing t
func (pt *PerformanceTracker) GetHourlyStats(t time.Time) *HourlyStats {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	stats, ok := pt.hourlyStats[t.Unix()/3600]
	if !ok {
		return nil
	}
	c := *stats
	c.VenueVolumes = make(map[string]decimal.Decimal, len(stats.VenueVolumes))
	for k, v := range stats.VenueVolumes {
		c.VenueVolumes[k] = v
	}
	return &c
}

// Reset clears all counters
func (pt *PerformanceTracker) Reset() {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.metrics = newPerformanceMetrics()
	pt.hourlyStats = make(map[int64]*HourlyStats)
	pt.latest = time.Time{}
}

func (pt *PerformanceTracker) hourFor(t time.Time) *HourlyStats {
	hour := t.Unix() / 3600
	stats, exists := pt.hourlyStats[hour]
	if !exists {
		stats = &HourlyStats{
			Hour:         time.Unix(hour*3600, 0).UTC(),
			VenueVolumes: make(map[string]decimal.Decimal),
		}
		pt.hourlyStats[hour] = stats
	}
	return stats
}

// advance moves the retention watermark to ts. Timestamps too far ahead of
// the local clock are still bucketed but never prune older hours.
func (pt *PerformanceTracker) advance(ts time.Time) {
	if !ts.After(pt.latest) || ts.After(pt.now().Add(maxClockSkew)) {
		return
	}
	pt.latest = ts
	pt.cleanupOldStats(ts)
}

// cleanupOldStats drops hourly buckets older than the retention window
func (pt *PerformanceTracker) cleanupOldStats(now time.Time) {
	cutoffHour := now.Add(-pt.retention).Unix() / 3600
	for hour := range pt.hourlyStats {
		if hour < cutoffHour {
			delete(pt.hourlyStats, hour)
		}
	}
}

func runningAverage(current, next float64, count int64) float64 {
	if count <= 1 {
		return next
	}
	return (current*float64(count-1) + next) / float64(count)
}

func runningDuration(current, next time.Duration, count int64) time.Duration {
	if count <= 1 {
		return next
	}
	total := current * time.Duration(count-1)
	total += next
	return total / time.Duration(count)
}
