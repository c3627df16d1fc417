package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/internal/router"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/internal/storage"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/cache"
	"github.com/mExOms/sor/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

type fixture struct {
	server  *Server
	handler http.Handler
	venues  *venue.Registry
	algos   *algorithm.Catalog
	rules   *rules.Set
	store   *storage.Store
}

func newFixture(t *testing.T, limiter *cache.RateLimiter) *fixture {
	t.Helper()

	venues := venue.NewRegistry(nil)
	require.NoError(t, venues.Register(venue.Venue{
		ID: "NSE", Type: types.VenueTypeExchange, Active: true,
		Metrics: venue.Metrics{LatencyMs: 2, FillRate: 0.95, SlippageBps: 1, LiquidityScore: 95, CostBps: 1.2, UpdatedAt: t0},
	}))
	require.NoError(t, venues.Register(venue.Venue{
		ID: "BSE", Type: types.VenueTypeExchange, Active: true,
		Metrics: venue.Metrics{LatencyMs: 2, FillRate: 0.95, SlippageBps: 1, LiquidityScore: 82, CostBps: 1.5, UpdatedAt: t0},
	}))

	algos := algorithm.NewCatalog(10, nil)
	require.NoError(t, algos.Register(algorithm.Algorithm{ID: "SMART", Type: types.AlgorithmSmart, Active: true, Priority: 1}))
	require.NoError(t, algos.Register(algorithm.Algorithm{ID: "VWAP", Type: types.AlgorithmVWAP, Active: true, Priority: 2}))

	ruleSet := rules.NewSet(nil)

	store, err := storage.Open(storage.MemoryPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := cache.NewMemoryCache(100, 0)
	t.Cleanup(c.Close)
	decisions := router.NewCacheSink(c, time.Hour)
	tracker := router.NewPerformanceTracker(0)

	reg := prometheus.NewRegistry()
	metrics := monitor.NewRoutingMetrics(reg)

	svc := router.NewRoutingService(router.DefaultConfig(),
		&router.RegistryProvider{Venues: venues, Algorithms: algos, Rules: ruleSet},
		router.WithSink(decisions),
		router.WithObserver(tracker),
		router.WithObserver(metrics),
	)

	health := monitor.NewHealthChecker("test")
	health.RegisterCheck("algorithms", monitor.AlgorithmHealthCheck(algos))

	s := NewServer(Deps{
		Service:    svc,
		Venues:     venues,
		Algorithms: algos,
		Rules:      ruleSet,
		Store:      store,
		Decisions:  decisions,
		Tracker:    tracker,
		Health:     health,
		Gatherer:   reg,
		Limiter:    limiter,
		Now:        func() time.Time { return t0.Add(time.Minute) },
	})

	return &fixture{
		server:  s,
		handler: s.Handler(),
		venues:  venues,
		algos:   algos,
		rules:   ruleSet,
		store:   store,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestRouteOrder(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/route", `{"order_id":"o-1","symbol":"TCS","side":"buy","quantity":"1000"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var d router.RoutingDecision
	decodeBody(t, rec, &d)
	assert.Equal(t, "o-1", d.OrderID)
	assert.Equal(t, "SMART", d.AlgorithmID)
	assert.Equal(t, t0.Add(time.Minute), d.CreatedAt)

	total := 0
	for _, a := range d.Allocations {
		total += a.Percentage
	}
	assert.Equal(t, 100, total)

	rec = f.do(t, http.MethodGet, "/api/v1/decisions/"+d.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cached router.RoutingDecision
	decodeBody(t, rec, &cached)
	assert.Equal(t, d.ID, cached.ID)

	rec = f.do(t, http.MethodGet, "/api/v1/decisions/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouteOrder_Errors(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"zero quantity", `{"symbol":"TCS","side":"BUY","quantity":"0"}`, http.StatusBadRequest},
		{"bad side", `{"symbol":"TCS","side":"HOLD","quantity":"10"}`, http.StatusBadRequest},
		{"missing symbol", `{"side":"BUY","quantity":"10"}`, http.StatusBadRequest},
		{"unknown field", `{"symbol":"TCS","side":"BUY","quantity":"10","venue":"NSE"}`, http.StatusBadRequest},
		{"bad time of day", `{"symbol":"TCS","side":"BUY","quantity":"10","time_of_day":1440}`, http.StatusBadRequest},
		{"malformed", `{"symbol":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/route", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())

			var e ErrorResponse
			decodeBody(t, rec, &e)
			assert.NotEmpty(t, e.Message)
		})
	}
}

func TestRouteOrder_NoEligibleVenues(t *testing.T) {
	f := newFixture(t, nil)

	for _, id := range []string{"NSE", "BSE"} {
		rec := f.do(t, http.MethodPut, "/api/v1/venues/"+id+"/active", `{"active":false}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/route", `{"symbol":"TCS","side":"SELL","quantity":"10"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRouteBatch(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPost, "/api/v1/route/batch", `{"orders":[
		{"order_id":"a","symbol":"TCS","side":"BUY","quantity":"100"},
		{"order_id":"b","symbol":"TCS","side":"SIDEWAYS","quantity":"100"},
		{"order_id":"c","symbol":"INFY","side":"SELL","quantity":"0"},
		{"order_id":"d","symbol":"INFY","side":"SELL","quantity":"250"}
	]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchRouteResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Results, 4)
	assert.Equal(t, 2, resp.Routed)
	assert.Equal(t, 2, resp.Failed)

	assert.Equal(t, "a", resp.Results[0].OrderID)
	require.NotNil(t, resp.Results[0].Decision)
	assert.Equal(t, "invalid_order_context", resp.Results[1].Kind)
	assert.Equal(t, "invalid_order_context", resp.Results[2].Kind)
	require.NotNil(t, resp.Results[3].Decision)
	assert.Equal(t, "d", resp.Results[3].Decision.OrderID)

	rec = f.do(t, http.MethodPost, "/api/v1/route/batch", `{"orders":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRuleCRUD(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"id":"large","name":"Large orders","priority":10,
		"condition":{"min_size":"10000","time_window":"09:15-15:30"},
		"action":{"algorithm":"VWAP","venues":["NSE"],"max_slicing":1,"time_limit":"15m"}}`

	rec := f.do(t, http.MethodPost, "/api/v1/rules", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/v1/rules", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/rules/large", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got RulePayload
	decodeBody(t, rec, &got)
	assert.Equal(t, "10000", got.Condition.MinSize)
	assert.Equal(t, "09:15-15:30", got.Condition.TimeWindow)
	assert.Equal(t, "15m0s", got.Action.TimeLimit)
	require.NotNil(t, got.Active)
	assert.True(t, *got.Active)

	// the rule now drives routing
	rec = f.do(t, http.MethodPost, "/api/v1/route", `{"symbol":"TCS","side":"BUY","quantity":"20000"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var d router.RoutingDecision
	decodeBody(t, rec, &d)
	assert.Equal(t, "large", d.RuleID)
	assert.Equal(t, "VWAP", d.AlgorithmID)
	require.Len(t, d.Allocations, 1)
	assert.Equal(t, "NSE", d.Allocations[0].VenueID)

	stored, err := f.store.LoadRules()
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "large", stored[0].ID)

	rec = f.do(t, http.MethodPut, "/api/v1/rules/other", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/rules/large/active", `{"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	stored, err = f.store.LoadRules()
	require.NoError(t, err)
	assert.False(t, stored[0].Active)

	rec = f.do(t, http.MethodPut, "/api/v1/rules/large/active", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/v1/rules/large", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/rules/large", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/v1/rules/large", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stored, err = f.store.LoadRules()
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRuleCreate_Invalid(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []string{
		`{"id":"r","action":{}}`,
		`{"id":"r","condition":{"min_size":"ten"},"action":{"algorithm":"SMART"}}`,
		`{"id":"r","condition":{"time_window":"25:00-26:00"},"action":{"algorithm":"SMART"}}`,
		`{"id":"r","action":{"algorithm":"SMART","time_limit":"soon"}}`,
	} {
		rec := f.do(t, http.MethodPost, "/api/v1/rules", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "invalid argument", body)
		assert.NotContains(t, rec.Body.String(), "order context", body)
	}
	assert.Empty(t, f.rules.List())
}

func TestAlgorithmAdmin(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodGet, "/api/v1/algorithms", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"participation_rate":0.1`)

	rec = f.do(t, http.MethodPut, "/api/v1/algorithms/VWAP/priority", `{"priority":0}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	states, err := f.store.LoadAlgorithmStates()
	require.NoError(t, err)
	assert.Equal(t, 0, states["VWAP"].Priority)
	assert.True(t, states["VWAP"].Active)

	// the configured default is now inactive, so priority decides
	rec = f.do(t, http.MethodPut, "/api/v1/algorithms/SMART/active", `{"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	a, err := f.algos.Get("SMART")
	require.NoError(t, err)
	assert.False(t, a.Active)

	rec = f.do(t, http.MethodPost, "/api/v1/route", `{"symbol":"TCS","side":"BUY","quantity":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var d router.RoutingDecision
	decodeBody(t, rec, &d)
	assert.Equal(t, "VWAP", d.AlgorithmID)

	rec = f.do(t, http.MethodPut, "/api/v1/algorithms/NOPE/priority", `{"priority":3}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/v1/algorithms/VWAP/priority", `{"priority":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/algorithms", `{"id":"TWAP_5","type":"twap","priority":4,"params":{"twap":{"duration":300000000000,"slice_interval":60000000000}}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = f.do(t, http.MethodPost, "/api/v1/algorithms", `{"id":"TWAP_5","type":"twap"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/algorithms", `{"id":"X","type":"momentum"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/algorithms", `{"id":"Y","type":"smart","performance":{"cost_savings":1.5}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVenueAdmin(t *testing.T) {
	f := newFixture(t, nil)

	rec := f.do(t, http.MethodPut, "/api/v1/venues/NSE/metrics",
		`{"latency_ms":3,"fill_rate":0.9,"liquidity_score":90,"cost_bps":1.0,"timestamp":"2024-03-01T09:20:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var v venue.Venue
	decodeBody(t, rec, &v)
	assert.Equal(t, 90.0, v.Metrics.LiquidityScore)

	rec = f.do(t, http.MethodPut, "/api/v1/venues/NSE/metrics",
		`{"fill_rate":0.9,"liquidity_score":10,"timestamp":"2024-03-01T09:00:00Z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/venues/NSE/metrics", `{"fill_rate":1.5}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/venues/LSE/metrics", `{"fill_rate":0.5}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/venues/NSE/metrics", `{"fill_rate":0.9,"slippage_bps":1e308}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/venues",
		`{"id":"DP2","type":"dark pool","metrics":{"fill_rate":0.6,"slippage_bps":-1e308}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "slippage")

	rec = f.do(t, http.MethodPost, "/api/v1/venues",
		`{"id":"CITADEL_DP","type":"dark pool","metrics":{"latency_ms":5,"fill_rate":0.6,"liquidity_score":70,"cost_bps":0.5}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	dp, err := f.venues.Get("CITADEL_DP")
	require.NoError(t, err)
	assert.Equal(t, types.VenueTypeDarkPool, dp.Type)
	assert.Equal(t, t0.Add(time.Minute), dp.Metrics.UpdatedAt)

	rec = f.do(t, http.MethodPut, "/api/v1/venues/BSE/active", `{"active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/venues?active=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Venues []venue.Venue `json:"venues"`
		Count  int           `json:"count"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, 2, list.Count)

	rec = f.do(t, http.MethodGet, "/api/v1/venues/BSE", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/venues/LSE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	f.do(t, http.MethodPost, "/api/v1/route", `{"symbol":"TCS","side":"BUY","quantity":"100"}`)
	f.do(t, http.MethodPost, "/api/v1/route", `{"symbol":"TCS","side":"BUY","quantity":"-1"}`)

	rec := f.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats router.PerformanceMetrics
	decodeBody(t, rec, &stats)
	assert.Equal(t, int64(1), stats.RoutedOrders)

	rec = f.do(t, http.MethodGet, "/api/v1/stats/hourly?at=2024-03-01T09:30:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/stats/hourly?at=2024-03-02T09:30:00Z", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/v1/stats/hourly?at=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "sor_router_decisions_total"))

	rec = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, cache.NewRateLimiter(2, time.Minute))

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/venues", nil)
		req.Header.Set(ClientIDHeader, client)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("desk-a"))
	assert.Equal(t, http.StatusOK, send("desk-a"))
	assert.Equal(t, http.StatusTooManyRequests, send("desk-a"))
	assert.Equal(t, http.StatusOK, send("desk-b"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/venues", nil)
	req.Header.Set(ClientIDHeader, "desk-a")
	limited := httptest.NewRecorder()
	f.handler.ServeHTTP(limited, req)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.NotEmpty(t, limited.Header().Get("Retry-After"))

	// health and metrics sit outside the limited prefix
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(types.ErrNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(types.ErrAlreadyExists))
	assert.Equal(t, http.StatusConflict, statusFor(types.ErrStaleUpdate))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(types.ErrNoEligibleVenues))
	assert.Equal(t, http.StatusBadRequest, statusFor(types.NewValidationError("x", "y")))
	assert.Equal(t, http.StatusBadRequest, statusFor(types.NewArgumentError("x", "y")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(assert.AnError))
}
