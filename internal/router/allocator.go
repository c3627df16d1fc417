package router

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

// ScoredVenue is a venue with its composite score
type ScoredVenue struct {
	Venue venue.Venue
	Score float64
}

// Allocation is the output of the allocator
type Allocation struct {
	Allocations []VenueAllocation
	Scored      []ScoredVenue // every eligible venue, best first
	Reasoning   []string
}

// AllocationRequest carries everything the allocator needs for one order
type AllocationRequest struct {
	Order      types.OrderContext
	Algorithm  algorithm.Algorithm
	Venues     []venue.Venue
	Allowlist  []string // empty allows every active venue
	MaxSlicing int      // 0 means no cap
	Weights    algorithm.ScoringWeights
}

// Allocator splits an order across venues by weighted multi-criteria score
type Allocator struct {
	precision    int32
	maxMetricAge time.Duration
	excludeStale bool
}

// NewAllocator creates an allocator
func NewAllocator(precision int32, maxMetricAge time.Duration, excludeStale bool) *Allocator {
	if precision < 0 {
		precision = 0
	}
	return &Allocator{
		precision:    precision,
		maxMetricAge: maxMetricAge,
		excludeStale: excludeStale,
	}
}

// Allocate restricts the venue set, scores it and distributes the order
// quantity. It fails with ErrNoEligibleVenues when nothing survives filtering.
func (a *Allocator) Allocate(req AllocationRequest) (*Allocation, error) {
	result := &Allocation{}

	eligible := a.filterEligible(req, result)
	if len(eligible) == 0 {
		return nil, fmt.Errorf("%s %s: %w", req.Order.Side, req.Order.Symbol, types.ErrNoEligibleVenues)
	}

	result.Scored = ScoreVenues(eligible, req.Weights)

	selected := result.Scored
	if req.MaxSlicing > 0 && len(selected) > req.MaxSlicing {
		selected = selected[:req.MaxSlicing]
		result.Reasoning = append(result.Reasoning,
			fmt.Sprintf("slicing capped at %d of %d eligible venues", req.MaxSlicing, len(result.Scored)))
	}

	percentages := largestRemainder(shareWeights(selected, req.Weights))
	fills := a.distributeFills(req.Order.Quantity, percentages)

	for i, sv := range selected {
		if percentages[i] == 0 {
			result.Reasoning = append(result.Reasoning,
				fmt.Sprintf("venue %s dropped: share rounded to 0%%", sv.Venue.ID))
			continue
		}
		result.Allocations = append(result.Allocations, VenueAllocation{
			VenueID:             sv.Venue.ID,
			Percentage:          percentages[i],
			ExpectedSlippageBps: sv.Venue.Metrics.SlippageBps,
			EstimatedFill:       fills[i],
			Score:               sv.Score,
		})
	}

	top := result.Allocations[0]
	result.Reasoning = append(result.Reasoning,
		fmt.Sprintf("allocated across %d venue(s) by composite score, top %s %d%% (score %.4f)",
			len(result.Allocations), top.VenueID, top.Percentage, top.Score))
	return result, nil
}

func (a *Allocator) filterEligible(req AllocationRequest, result *Allocation) []venue.Venue {
	var allowed map[string]bool
	if len(req.Allowlist) > 0 {
		allowed = make(map[string]bool, len(req.Allowlist))
		for _, id := range req.Allowlist {
			allowed[id] = true
		}
		known := make(map[string]bool, len(req.Venues))
		for _, v := range req.Venues {
			known[v.ID] = true
		}
		for _, id := range req.Allowlist {
			if !known[id] {
				result.Reasoning = append(result.Reasoning,
					fmt.Sprintf("venue %s in rule venue list is unknown", id))
			}
		}
	}

	venues := make([]venue.Venue, len(req.Venues))
	copy(venues, req.Venues)
	sort.Slice(venues, func(i, j int) bool { return venues[i].ID < venues[j].ID })

	eligible := make([]venue.Venue, 0, len(venues))
	for _, v := range venues {
		switch {
		case !v.Active:
			result.Reasoning = append(result.Reasoning, fmt.Sprintf("venue %s excluded: inactive", v.ID))
		case allowed != nil && !allowed[v.ID]:
			result.Reasoning = append(result.Reasoning, fmt.Sprintf("venue %s excluded: not in rule venue list", v.ID))
		case a.excludeStale && venue.IsStale(v, req.Order.Timestamp, a.maxMetricAge):
			result.Reasoning = append(result.Reasoning, fmt.Sprintf("venue %s excluded: metrics stale", v.ID))
		default:
			eligible = append(eligible, v)
		}
	}
	return eligible
}

// ScoreVenues min-max normalises each metric across venues and applies w.
// The result is ordered by score descending, ties by venue id.
func ScoreVenues(venues []venue.Venue, w algorithm.ScoringWeights) []ScoredVenue {
	liquidity := normalizer(venues, func(v venue.Venue) float64 { return v.Metrics.LiquidityScore })
	slippage := normalizer(venues, func(v venue.Venue) float64 { return v.Metrics.SlippageBps })
	fillRate := normalizer(venues, func(v venue.Venue) float64 { return v.Metrics.FillRate })
	latency := normalizer(venues, func(v venue.Venue) float64 { return v.Metrics.LatencyMs })
	cost := normalizer(venues, func(v venue.Venue) float64 { return v.Metrics.CostBps })

	scored := make([]ScoredVenue, len(venues))
	for i, v := range venues {
		score := w.Liquidity*liquidity(v.Metrics.LiquidityScore) +
			w.Slippage*(1-slippage(v.Metrics.SlippageBps)) +
			w.FillRate*fillRate(v.Metrics.FillRate) +
			w.Latency*(1-latency(v.Metrics.LatencyMs)) -
			w.Cost*cost(v.Metrics.CostBps)
		scored[i] = ScoredVenue{Venue: v, Score: score}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Venue.ID < scored[j].Venue.ID
	})
	return scored
}

// normalizer maps a raw metric into [0,1]. A metric that is equal across all
// venues carries no information and maps to 0.5.
func normalizer(venues []venue.Venue, metric func(venue.Venue) float64) func(float64) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range venues {
		x := metric(v)
		lo = math.Min(lo, x)
		hi = math.Max(hi, x)
	}
	return func(x float64) float64 {
		if hi-lo <= 0 {
			return 0.5
		}
		return (x - lo) / (hi - lo)
	}
}

// shareWeights turns scores into non-negative proportional weights. The cost
// term is the only subtraction, so shifting by its weight keeps every share >= 0.
// A non-finite score gets no share.
func shareWeights(selected []ScoredVenue, w algorithm.ScoringWeights) []float64 {
	weights := make([]float64, len(selected))
	var total float64
	for i, sv := range selected {
		share := sv.Score + w.Cost
		if math.IsNaN(share) || math.IsInf(share, 0) {
			share = 0
		}
		weights[i] = math.Max(share, 0)
		total += weights[i]
	}
	if total <= 0 {
		for i := range weights {
			weights[i] = 1
		}
	}
	return weights
}

// largestRemainder converts weights into whole percentages summing to 100.
// Leftover points go to the largest fractional parts; ties favour the
// earlier (higher scoring) entry.
func largestRemainder(weights []float64) []int {
	var total float64
	for _, w := range weights {
		total += w
	}

	type part struct {
		idx  int
		frac float64
	}

	percentages := make([]int, len(weights))
	parts := make([]part, len(weights))
	assigned := 0
	for i, w := range weights {
		raw := 100 * w / total
		floor := math.Floor(raw)
		percentages[i] = int(floor)
		assigned += int(floor)
		parts[i] = part{idx: i, frac: raw - floor}
	}

	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].frac > parts[j].frac
	})
	for k := 0; assigned < 100; k = (k + 1) % len(parts) {
		percentages[parts[k].idx]++
		assigned++
	}
	// Float drift can push the floors past 100; take back from the smallest remainders.
	for k := len(parts) - 1; assigned > 100; k = (k - 1 + len(parts)) % len(parts) {
		if percentages[parts[k].idx] > 0 {
			percentages[parts[k].idx]--
			assigned--
		}
	}
	return percentages
}

// distributeFills rounds each venue's share of qty and hands the rounding
// remainder to the largest allocation so the fills sum to qty exactly.
func (a *Allocator) distributeFills(qty decimal.Decimal, percentages []int) []decimal.Decimal {
	fills := a.fillsWith(qty, percentages, func(d decimal.Decimal) decimal.Decimal {
		return d.Round(a.precision)
	})
	if fills == nil {
		// Rounding overshot by more than the top share; truncation always undershoots.
		fills = a.fillsWith(qty, percentages, func(d decimal.Decimal) decimal.Decimal {
			return d.Truncate(a.precision)
		})
	}
	return fills
}

func (a *Allocator) fillsWith(qty decimal.Decimal, percentages []int, round func(decimal.Decimal) decimal.Decimal) []decimal.Decimal {
	hundred := decimal.NewFromInt(100)
	fills := make([]decimal.Decimal, len(percentages))
	sum := decimal.Zero
	top := 0
	for i, p := range percentages {
		fills[i] = round(qty.Mul(decimal.NewFromInt(int64(p))).Div(hundred))
		sum = sum.Add(fills[i])
		if p > percentages[top] {
			top = i
		}
	}

	fills[top] = fills[top].Add(qty.Sub(sum))
	if fills[top].IsNegative() {
		return nil
	}
	return fills
}
