package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

type countingRecorder struct {
	stale   int
	samples map[string]int
}

func (r *countingRecorder) StaleUpdate() { r.stale++ }
func (r *countingRecorder) PerformanceSample(id string) {
	if r.samples == nil {
		r.samples = map[string]int{}
	}
	r.samples[id]++
}

func newTestHandler(t *testing.T) (*Handler, *venue.Registry, *algorithm.Catalog, *countingRecorder) {
	venues := venue.NewRegistry(nil)
	require.NoError(t, venues.Register(venue.Venue{
		ID: "NSE", Type: types.VenueTypeExchange, Active: true,
		Metrics: venue.Metrics{LatencyMs: 2, FillRate: 0.97, LiquidityScore: 95, CostBps: 1.2, UpdatedAt: t0},
	}))
	catalog := algorithm.NewCatalog(2, nil)
	require.NoError(t, catalog.Register(algorithm.Algorithm{ID: "SMART", Type: types.AlgorithmSmart, Active: true}))

	rec := &countingRecorder{}
	return NewHandler(venues, catalog, rec, nil), venues, catalog, rec
}

func TestHandleVenueMetrics(t *testing.T) {
	h, venues, _, rec := newTestHandler(t)

	err := h.HandleVenueMetrics("sor.venues.metrics.NSE",
		[]byte(`{"latency_ms":3,"fill_rate":0.9,"liquidity_score":90,"cost_bps":1.1,"timestamp":"2024-03-01T09:16:00Z"}`))
	require.NoError(t, err)

	v, err := venues.Get("NSE")
	require.NoError(t, err)
	assert.Equal(t, 90.0, v.Metrics.LiquidityScore)
	assert.Equal(t, t0.Add(time.Minute), v.Metrics.UpdatedAt)

	// older than what is stored: ignored, counted, not an error
	err = h.HandleVenueMetrics("sor.venues.metrics.NSE",
		[]byte(`{"liquidity_score":10,"fill_rate":0.5,"timestamp":"2024-03-01T09:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, rec.stale)

	v, _ = venues.Get("NSE")
	assert.Equal(t, 90.0, v.Metrics.LiquidityScore)
}

func TestHandleVenueMetrics_Errors(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	assert.Error(t, h.HandleVenueMetrics("sor.venues.metrics.NSE", []byte(`{`)))
	assert.Error(t, h.HandleVenueMetrics("sor.venues.metrics.NSE", []byte(`{"fill_rate":0.5}`)))
	assert.Error(t, h.HandleVenueMetrics("sor.venues.metrics.NSE", []byte(`{"fill_rate":1.5,"timestamp":"2024-03-01T09:16:00Z"}`)))
	assert.Error(t, h.HandleVenueMetrics("sor.venues.metrics.NSE", []byte(`{"fill_rate":0.9,"slippage_bps":1e308,"timestamp":"2024-03-01T09:16:00Z"}`)))

	err := h.HandleVenueMetrics("sor.venues.metrics.LSE", []byte(`{"fill_rate":0.5,"timestamp":"2024-03-01T09:16:00Z"}`))
	assert.True(t, errors.Is(err, types.ErrNotFound))

	err = h.HandleVenueMetrics("garbage", []byte(`{"fill_rate":0.5,"timestamp":"2024-03-01T09:16:00Z"}`))
	assert.Error(t, err)
}

func TestHandlePerformanceSample(t *testing.T) {
	h, _, catalog, rec := newTestHandler(t)

	require.NoError(t, h.HandlePerformanceSample("sor.algorithms.performance.SMART",
		[]byte(`{"slippage_bps":2,"fill_rate":0.9,"execution_time_ms":60000,"cost_savings":0.1}`)))
	require.NoError(t, h.HandlePerformanceSample("ignored.subject",
		[]byte(`{"algorithm_id":"SMART","slippage_bps":4,"fill_rate":0.7,"execution_time_ms":120000,"cost_savings":0.3}`)))

	a, err := catalog.Get("SMART")
	require.NoError(t, err)
	assert.InDelta(t, 3.0, a.Performance.AvgSlippageBps, 1e-9)
	assert.InDelta(t, 0.8, a.Performance.FillRate, 1e-9)
	assert.Equal(t, 90*time.Second, a.Performance.ExecutionTime)
	assert.Equal(t, 2, rec.samples["SMART"])

	err = h.HandlePerformanceSample("sor.algorithms.performance.NOPE", []byte(`{"fill_rate":0.5}`))
	assert.True(t, errors.Is(err, types.ErrNotFound))
	assert.Error(t, h.HandlePerformanceSample("sor.algorithms.performance.SMART", []byte(`{"fill_rate":2}`)))
	assert.Error(t, h.HandlePerformanceSample("sor.algorithms.performance.SMART", []byte(`{"fill_rate":0.9,"cost_savings":1.5}`)))
	assert.Equal(t, 2, rec.samples["SMART"])
}
