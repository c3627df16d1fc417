package router

import (
	"fmt"
	"math"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

const (
	matchedBaseConfidence = 0.6
	defaultBaseConfidence = 0.4
	spreadConfidence      = 0.4

	concentrationRiskWeight = 0.6
	algorithmRiskWeight     = 0.4
)

// algorithmImpact is the relative market-impact exposure of each algorithm
// family, in [0,1]
var algorithmImpact = map[types.AlgorithmType]float64{
	types.AlgorithmTWAP:                    0.2,
	types.AlgorithmVWAP:                    0.3,
	types.AlgorithmSmart:                   0.4,
	types.AlgorithmArrivalPrice:            0.5,
	types.AlgorithmImplementationShortfall: 0.6,
	types.AlgorithmLiquiditySeeking:        0.7,
}

var bpsDivisor = decimal.NewFromInt(10000)

// Composer assembles routing decisions
type Composer struct{}

// NewComposer creates a decision composer
func NewComposer() *Composer {
	return &Composer{}
}

// ComposeInput is everything that went into a decision
type ComposeInput struct {
	Order      types.OrderContext
	Match      *rules.Match // nil on the default path
	Algorithm  algorithm.Algorithm
	Allocation *Allocation
	Weights    algorithm.ScoringWeights
	Reasoning  []string
}

// Compose builds the decision. It does not assign an id.
func (c *Composer) Compose(in ComposeInput) *RoutingDecision {
	allocations := make([]VenueAllocation, len(in.Allocation.Allocations))
	copy(allocations, in.Allocation.Allocations)

	d := &RoutingDecision{
		OrderID:       in.Order.OrderID,
		Symbol:        in.Order.Symbol,
		Side:          in.Order.Side,
		Quantity:      in.Order.Quantity,
		AlgorithmID:   in.Algorithm.ID,
		AlgorithmType: in.Algorithm.Type,
		Allocations:   allocations,
		CreatedAt:     in.Order.Timestamp,
	}
	if in.Match != nil {
		d.RuleID = in.Match.RuleID
	}

	d.Confidence = Confidence(in.Match != nil, allocations, in.Weights)
	d.EstimatedCost = EstimatedCost(allocations, in.Allocation.Scored, in.Algorithm.Performance.CostSavings)
	d.EstimatedTime = EstimatedTime(in.Algorithm.Performance.ExecutionTime, in.Match)
	d.RiskScore = RiskScore(allocations, in.Algorithm.Type)

	reasoning := make([]string, 0, len(in.Reasoning)+len(in.Allocation.Reasoning)+2)
	reasoning = append(reasoning, in.Reasoning...)
	reasoning = append(reasoning, in.Allocation.Reasoning...)
	reasoning = append(reasoning, fmt.Sprintf("confidence %.2f, risk %.2f, estimated time %s",
		d.Confidence, d.RiskScore, d.EstimatedTime))
	d.Reasoning = reasoning

	return d
}

// Confidence rises when a rule matched and when the top venue stands out from
// the mean of the allocated venues. Bounded to [0,1].
func Confidence(ruleMatched bool, allocations []VenueAllocation, w algorithm.ScoringWeights) float64 {
	base := defaultBaseConfidence
	if ruleMatched {
		base = matchedBaseConfidence
	}
	if len(allocations) == 0 {
		return clamp01(base)
	}

	top := allocations[0].Score
	var sum float64
	for _, a := range allocations {
		sum += a.Score
		top = math.Max(top, a.Score)
	}
	mean := sum / float64(len(allocations))

	spread := 0.0
	if total := w.Sum(); total > 0 {
		spread = clamp01((top - mean) / total)
	}
	return clamp01(base + spreadConfidence*spread)
}

// EstimatedCost is the sum of fill x venue cost (bps) less the algorithm's
// modelled cost savings
func EstimatedCost(allocations []VenueAllocation, scored []ScoredVenue, costSavings float64) decimal.Decimal {
	costByVenue := make(map[string]float64, len(scored))
	for _, sv := range scored {
		costByVenue[sv.Venue.ID] = sv.Venue.Metrics.CostBps
	}

	gross := decimal.Zero
	for _, a := range allocations {
		bps := decimal.NewFromFloat(costByVenue[a.VenueID])
		gross = gross.Add(a.EstimatedFill.Mul(bps).Div(bpsDivisor))
	}

	savings := gross.Mul(decimal.NewFromFloat(costSavings))
	return gross.Sub(savings)
}

// EstimatedTime is the algorithm's historical execution time, capped by the
// rule time limit when the rule sets a shorter one
func EstimatedTime(execution time.Duration, match *rules.Match) time.Duration {
	if match == nil || match.Action.TimeLimit <= 0 {
		return execution
	}
	limit := match.Action.TimeLimit
	if execution <= 0 || limit < execution {
		return limit
	}
	return execution
}

// RiskScore combines allocation concentration (Herfindahl index) with the
// market impact of the algorithm family. Bounded to [0,1].
func RiskScore(allocations []VenueAllocation, t types.AlgorithmType) float64 {
	var hhi float64
	for _, a := range allocations {
		share := float64(a.Percentage) / 100
		hhi += share * share
	}

	impact, ok := algorithmImpact[t]
	if !ok {
		impact = 0.5
	}
	return clamp01(concentrationRiskWeight*hhi + algorithmRiskWeight*impact)
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
