package router

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreVenues_OrdersByScore(t *testing.T) {
	scored := ScoreVenues(testVenues(), algorithm.DefaultScoringWeights())
	require.Len(t, scored, 3)

	assert.Equal(t, "NSE", scored[0].Venue.ID)
	assert.Equal(t, "BSE", scored[1].Venue.ID)
	assert.Equal(t, "CITADEL_DP", scored[2].Venue.ID)
	assert.InDelta(t, 0.25, scored[2].Score, 1e-9)
}

func TestScoreVenues_EqualMetricsTieBreakByID(t *testing.T) {
	venues := nseBSE()
	venues[1].Metrics = venues[0].Metrics

	scored := ScoreVenues(venues, algorithm.DefaultScoringWeights())
	assert.Equal(t, scored[0].Score, scored[1].Score)
	assert.Equal(t, "BSE", scored[0].Venue.ID)
}

func TestLargestRemainder(t *testing.T) {
	tests := []struct {
		name    string
		weights []float64
		want    []int
	}{
		{"thirds favour first", []float64{1, 1, 1}, []int{34, 33, 33}},
		{"single", []float64{0.3}, []int{100}},
		{"zero weight", []float64{0, 1}, []int{0, 100}},
		{"uneven", []float64{0.5, 0.3, 0.2}, []int{50, 30, 20}},
		{"sevenths", []float64{1, 1, 1, 1, 1, 1, 1}, []int{15, 15, 14, 14, 14, 14, 14}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, largestRemainder(tt.weights))
		})
	}
}

func TestDistributeFills(t *testing.T) {
	tests := []struct {
		name        string
		precision   int32
		qty         string
		percentages []int
		want        []string
	}{
		{"remainder to top", 0, "10", []int{34, 33, 33}, []string{"4", "3", "3"}},
		{"fractional lots", 2, "1", []int{34, 33, 33}, []string{"0.34", "0.33", "0.33"}},
		{"overshoot falls back to truncation", 0, "3", []int{20, 20, 20, 20, 20}, []string{"3", "0", "0", "0", "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAllocator(tt.precision, 0, false)
			fills := a.distributeFills(decimal.RequireFromString(tt.qty), tt.percentages)
			require.Len(t, fills, len(tt.want))
			for i, w := range tt.want {
				assert.True(t, decimal.RequireFromString(w).Equal(fills[i]), "fill %d: got %s want %s", i, fills[i], w)
			}
		})
	}
}

func TestAllocator_SumsHoldForManyQuantities(t *testing.T) {
	for _, precision := range []int32{0, 2} {
		a := NewAllocator(precision, 0, false)
		for _, qty := range []string{"1", "3", "7", "99", "800", "1001", "12345.67", "0.05"} {
			q := decimal.RequireFromString(qty)
			res, err := a.Allocate(AllocationRequest{
				Order:   types.OrderContext{Symbol: "TCS", Side: types.OrderSideSell, Quantity: q, Timestamp: t0},
				Venues:  testVenues(),
				Weights: algorithm.DefaultScoringWeights(),
			})
			require.NoError(t, err)

			pct := 0
			sum := decimal.Zero
			for _, al := range res.Allocations {
				pct += al.Percentage
				sum = sum.Add(al.EstimatedFill)
				assert.False(t, al.EstimatedFill.IsNegative())
			}
			assert.Equal(t, 100, pct, "precision %d qty %s", precision, qty)
			assert.True(t, q.Equal(sum), "precision %d qty %s: fills sum to %s", precision, qty, sum)
		}
	}
}

func TestAllocator_MaxSlicingKeepsTopVenues(t *testing.T) {
	a := NewAllocator(0, 0, false)
	res, err := a.Allocate(AllocationRequest{
		Order:      testOrder(1000),
		Venues:     testVenues(),
		MaxSlicing: 2,
		Weights:    algorithm.DefaultScoringWeights(),
	})
	require.NoError(t, err)

	require.Len(t, res.Allocations, 2)
	assert.Equal(t, "NSE", res.Allocations[0].VenueID)
	assert.Equal(t, "BSE", res.Allocations[1].VenueID)
	assert.Len(t, res.Scored, 3)
	assert.True(t, containsLine(res.Reasoning, "slicing capped at 2 of 3 eligible venues"))
}

func TestAllocator_UnknownAllowlistVenue(t *testing.T) {
	a := NewAllocator(0, 0, false)
	res, err := a.Allocate(AllocationRequest{
		Order:     testOrder(1000),
		Venues:    testVenues(),
		Allowlist: []string{"NSE", "LSE"},
		Weights:   algorithm.DefaultScoringWeights(),
	})
	require.NoError(t, err)

	require.Len(t, res.Allocations, 1)
	assert.Equal(t, 100, res.Allocations[0].Percentage)
	assert.True(t, containsLine(res.Reasoning, "venue LSE in rule venue list is unknown"))

	_, err = a.Allocate(AllocationRequest{
		Order:     testOrder(1000),
		Venues:    testVenues(),
		Allowlist: []string{"LSE"},
		Weights:   algorithm.DefaultScoringWeights(),
	})
	assert.True(t, errors.Is(err, types.ErrNoEligibleVenues))
}

func TestAllocator_StaleVenuesExcluded(t *testing.T) {
	venues := testVenues()
	venues[2].Metrics.UpdatedAt = t0.Add(-5 * time.Minute) // CITADEL_DP

	order := testOrder(1000)

	lenient := NewAllocator(0, time.Minute, false)
	res, err := lenient.Allocate(AllocationRequest{Order: order, Venues: venues, Weights: algorithm.DefaultScoringWeights()})
	require.NoError(t, err)
	assert.Len(t, res.Scored, 3)

	strict := NewAllocator(0, time.Minute, true)
	res, err = strict.Allocate(AllocationRequest{Order: order, Venues: venues, Weights: algorithm.DefaultScoringWeights()})
	require.NoError(t, err)
	assert.Len(t, res.Scored, 2)
	assert.True(t, containsLine(res.Reasoning, "venue CITADEL_DP excluded: metrics stale"))
}

func TestAllocator_DoesNotMutateInput(t *testing.T) {
	venues := testVenues()
	a := NewAllocator(0, 0, false)
	_, err := a.Allocate(AllocationRequest{Order: testOrder(1000), Venues: venues, Weights: algorithm.DefaultScoringWeights()})
	require.NoError(t, err)

	assert.Equal(t, testVenues(), venues)
}

func TestNormalizer_ConstantMetricIsNeutral(t *testing.T) {
	venues := []venue.Venue{{ID: "A"}, {ID: "B"}}
	norm := normalizer(venues, func(v venue.Venue) float64 { return v.Metrics.CostBps })
	assert.Equal(t, 0.5, norm(0))
}

func TestShareWeights_NonFiniteScoreGetsNoShare(t *testing.T) {
	w := algorithm.DefaultScoringWeights()
	selected := []ScoredVenue{
		{Venue: venue.Venue{ID: "A"}, Score: 0.8},
		{Venue: venue.Venue{ID: "B"}, Score: math.NaN()},
		{Venue: venue.Venue{ID: "C"}, Score: math.Inf(1)},
	}

	weights := shareWeights(selected, w)
	assert.Equal(t, 0.0, weights[1])
	assert.Equal(t, 0.0, weights[2])

	percentages := largestRemainder(weights)
	assert.Equal(t, []int{100, 0, 0}, percentages)
}
