package nats

import (
	"time"
)

// VenueMetricsMessage is a metric push from the market data subsystem. The
// venue id comes from the subject when the body omits it.
type VenueMetricsMessage struct {
	VenueID        string    `json:"venue_id,omitempty" yaml:"venue_id,omitempty"`
	LatencyMs      float64   `json:"latency_ms" yaml:"latency_ms"`
	FillRate       float64   `json:"fill_rate" yaml:"fill_rate"`
	SlippageBps    float64   `json:"slippage_bps" yaml:"slippage_bps"`
	LiquidityScore float64   `json:"liquidity_score" yaml:"liquidity_score"`
	CostBps        float64   `json:"cost_bps" yaml:"cost_bps"`
	MarketShare    float64   `json:"market_share" yaml:"market_share"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
}

// PerformanceSampleMessage is an execution outcome reported back for an algorithm
type PerformanceSampleMessage struct {
	AlgorithmID     string    `json:"algorithm_id,omitempty" yaml:"algorithm_id,omitempty"`
	SlippageBps     float64   `json:"slippage_bps" yaml:"slippage_bps"`
	FillRate        float64   `json:"fill_rate" yaml:"fill_rate"`
	ExecutionTimeMs int64     `json:"execution_time_ms" yaml:"execution_time_ms"`
	CostSavings     float64   `json:"cost_savings" yaml:"cost_savings"`
	Timestamp       time.Time `json:"timestamp" yaml:"timestamp"`
}

// ExecutionTime returns the sample duration
func (m PerformanceSampleMessage) ExecutionTime() time.Duration {
	return time.Duration(m.ExecutionTimeMs) * time.Millisecond
}
