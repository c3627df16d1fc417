package router

import (
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

// VenueAllocation is the share of an order sent to one venue
type VenueAllocation struct {
	VenueID             string          `json:"venue_id"`
	Percentage          int             `json:"percentage"`
	ExpectedSlippageBps float64         `json:"expected_slippage_bps"`
	EstimatedFill       decimal.Decimal `json:"estimated_fill"`
	Score               float64         `json:"score"`
}

// RoutingDecision is the immutable outcome of routing one order.
// Percentages sum to exactly 100 and estimated fills to the order quantity.
type RoutingDecision struct {
	ID            string              `json:"id"`
	OrderID       string              `json:"order_id,omitempty"`
	Symbol        string              `json:"symbol"`
	Side          types.OrderSide     `json:"side"`
	Quantity      decimal.Decimal     `json:"quantity"`
	AlgorithmID   string              `json:"algorithm_id"`
	AlgorithmType types.AlgorithmType `json:"algorithm_type"`
	RuleID        string              `json:"rule_id,omitempty"`
	Allocations   []VenueAllocation   `json:"allocations"`
	Reasoning     []string            `json:"reasoning"`
	Confidence    float64             `json:"confidence"`
	EstimatedCost decimal.Decimal     `json:"estimated_cost"`
	EstimatedTime time.Duration       `json:"estimated_time"`
	RiskScore     float64             `json:"risk_score"`
	CreatedAt     time.Time           `json:"created_at"`
}

// UsedDefault reports whether the decision came from the fallback path
func (d *RoutingDecision) UsedDefault() bool {
	return d.RuleID == ""
}

// Snapshot is one consistent view of venues, algorithms and rules taken at
// the start of a routing call
type Snapshot struct {
	Venues     []venue.Venue
	Algorithms []algorithm.Algorithm
	Rules      []rules.Rule
}

// SnapshotProvider supplies routing inputs. Tests inject fixed snapshots.
type SnapshotProvider interface {
	Snapshot() Snapshot
}

// RegistryProvider reads snapshots from the live registries
type RegistryProvider struct {
	Venues     *venue.Registry
	Algorithms *algorithm.Catalog
	Rules      *rules.Set
}

// Snapshot implements SnapshotProvider
func (p *RegistryProvider) Snapshot() Snapshot {
	return Snapshot{
		Venues:     p.Venues.List(),
		Algorithms: p.Algorithms.List(),
		Rules:      p.Rules.Snapshot(),
	}
}

// StaticProvider always returns the same snapshot
type StaticProvider struct {
	Data Snapshot
}

// Snapshot implements SnapshotProvider
func (p StaticProvider) Snapshot() Snapshot {
	return p.Data
}

// Config tunes the routing service
type Config struct {
	DefaultAlgorithm   string
	KnownSymbols       []string // empty accepts any symbol
	Weights            algorithm.ScoringWeights
	QuantityPrecision  int32 // decimal places of estimated fills
	MaxMetricAge       time.Duration
	ExcludeStaleVenues bool
	BatchWorkers       int
}

// DefaultConfig returns the stock routing configuration
func DefaultConfig() Config {
	return Config{
		DefaultAlgorithm:  "SMART",
		Weights:           algorithm.DefaultScoringWeights(),
		QuantityPrecision: 0,
		MaxMetricAge:      time.Minute,
		BatchWorkers:      4,
	}
}
