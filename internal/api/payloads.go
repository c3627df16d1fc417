package api

import (
	"fmt"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/catalog"
	"github.com/mExOms/sor/internal/router"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

// RouteRequest is one order to route. Timestamp defaults to the server clock
// and TimeOfDay to the timestamp's minute of day.
type RouteRequest struct {
	OrderID         string           `json:"order_id"`
	Symbol          string           `json:"symbol" validate:"required"`
	Side            string           `json:"side" validate:"required"`
	Quantity        decimal.Decimal  `json:"quantity"`
	LimitPrice      *decimal.Decimal `json:"limit_price,omitempty"`
	Volatility      float64          `json:"volatility" validate:"gte=0"`
	Spread          float64          `json:"spread" validate:"gte=0"`
	MarketCondition string           `json:"market_condition"`
	TimeOfDay       *int             `json:"time_of_day,omitempty" validate:"omitempty,gte=0,lt=1440"`
	Timestamp       *time.Time       `json:"timestamp,omitempty"`
}

// BatchRouteRequest routes several independent orders
type BatchRouteRequest struct {
	Orders []RouteRequest `json:"orders" validate:"required,min=1,max=1000,dive"`
}

// BatchItem is one entry of a batch reply
type BatchItem struct {
	OrderID  string                  `json:"order_id,omitempty"`
	Decision *router.RoutingDecision `json:"decision,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Kind     string                  `json:"kind,omitempty"`
}

// BatchRouteResponse keeps the request order
type BatchRouteResponse struct {
	Results []BatchItem `json:"results"`
	Routed  int         `json:"routed"`
	Failed  int         `json:"failed"`
}

func (req RouteRequest) order(now time.Time) (types.OrderContext, error) {
	side, err := types.ParseOrderSide(req.Side)
	if err != nil {
		return types.OrderContext{}, types.NewValidationError("side", err.Error())
	}

	o := types.OrderContext{
		OrderID:    req.OrderID,
		Symbol:     req.Symbol,
		Side:       side,
		Quantity:   req.Quantity,
		LimitPrice: req.LimitPrice,
		Volatility: req.Volatility,
		Spread:     req.Spread,
		Timestamp:  now,
	}
	if req.MarketCondition != "" {
		mc, err := types.ParseMarketCondition(req.MarketCondition)
		if err != nil {
			return types.OrderContext{}, types.NewValidationError("market_condition", err.Error())
		}
		o.MarketCondition = mc
	}
	if req.Timestamp != nil {
		o.Timestamp = *req.Timestamp
	}
	if req.TimeOfDay != nil {
		o.TimeOfDay = *req.TimeOfDay
	} else {
		o.TimeOfDay = o.Timestamp.Hour()*60 + o.Timestamp.Minute()
	}
	return o, nil
}

// RulePayload is the wire form of a routing rule. Sizes are decimal strings,
// the time window is "HH:MM-HH:MM" and the time limit a Go duration string.
type RulePayload struct {
	ID        string           `json:"id" validate:"required"`
	Name      string           `json:"name"`
	Priority  int              `json:"priority" validate:"gte=0"`
	Active    *bool            `json:"active,omitempty"`
	Condition ConditionPayload `json:"condition"`
	Action    ActionPayload    `json:"action"`
}

// ConditionPayload is the wire form of rules.Condition
type ConditionPayload struct {
	Symbol          string   `json:"symbol,omitempty"`
	MinSize         string   `json:"min_size,omitempty"`
	MaxSize         string   `json:"max_size,omitempty"`
	MinVolatility   *float64 `json:"min_volatility,omitempty"`
	MaxVolatility   *float64 `json:"max_volatility,omitempty"`
	MaxSpread       *float64 `json:"max_spread,omitempty"`
	TimeWindow      string   `json:"time_window,omitempty"`
	MarketCondition string   `json:"market_condition,omitempty"`
}

// ActionPayload is the wire form of rules.Action
type ActionPayload struct {
	Algorithm  string   `json:"algorithm" validate:"required"`
	Venues     []string `json:"venues,omitempty"`
	MaxSlicing int      `json:"max_slicing,omitempty" validate:"gte=0"`
	TimeLimit  string   `json:"time_limit,omitempty"`
}

func (p RulePayload) rule() (rules.Rule, error) {
	var limit time.Duration
	if p.Action.TimeLimit != "" {
		d, err := time.ParseDuration(p.Action.TimeLimit)
		if err != nil {
			return rules.Rule{}, types.NewArgumentError("time_limit", err.Error())
		}
		limit = d
	}

	seed := catalog.RuleSeed{
		ID:       p.ID,
		Name:     p.Name,
		Priority: p.Priority,
		Active:   p.Active,
		Condition: catalog.ConditionSeed{
			Symbol:          p.Condition.Symbol,
			MinSize:         p.Condition.MinSize,
			MaxSize:         p.Condition.MaxSize,
			MinVolatility:   p.Condition.MinVolatility,
			MaxVolatility:   p.Condition.MaxVolatility,
			MaxSpread:       p.Condition.MaxSpread,
			TimeWindow:      p.Condition.TimeWindow,
			MarketCondition: p.Condition.MarketCondition,
		},
		Action: catalog.ActionSeed{
			Algorithm:  p.Action.Algorithm,
			Venues:     p.Action.Venues,
			MaxSlicing: p.Action.MaxSlicing,
			TimeLimit:  limit,
		},
	}
	r, err := seed.Build()
	if err != nil {
		return rules.Rule{}, types.NewArgumentError("rule", err.Error())
	}
	return r, nil
}

func rulePayload(r rules.Rule) RulePayload {
	active := r.Active
	p := RulePayload{
		ID:       r.ID,
		Name:     r.Name,
		Priority: r.Priority,
		Active:   &active,
		Action: ActionPayload{
			Algorithm:  r.Action.AlgorithmID,
			Venues:     r.Action.Venues,
			MaxSlicing: r.Action.MaxSlicing,
		},
	}
	if r.Action.TimeLimit > 0 {
		p.Action.TimeLimit = r.Action.TimeLimit.String()
	}

	c := r.Condition
	if c.Symbol != nil {
		p.Condition.Symbol = *c.Symbol
	}
	if c.MinSize != nil {
		p.Condition.MinSize = c.MinSize.String()
	}
	if c.MaxSize != nil {
		p.Condition.MaxSize = c.MaxSize.String()
	}
	p.Condition.MinVolatility = c.MinVolatility
	p.Condition.MaxVolatility = c.MaxVolatility
	p.Condition.MaxSpread = c.MaxSpread
	if c.TimeWindow != nil {
		p.Condition.TimeWindow = c.TimeWindow.String()
	}
	if c.MarketCondition != nil {
		p.Condition.MarketCondition = string(*c.MarketCondition)
	}
	return p
}

// AlgorithmPayload registers a new algorithm
type AlgorithmPayload struct {
	ID          string                `json:"id" validate:"required"`
	Name        string                `json:"name"`
	Type        string                `json:"type" validate:"required"`
	Active      *bool                 `json:"active,omitempty"`
	Priority    int                   `json:"priority" validate:"gte=0"`
	Params      algorithm.ParamsSpec  `json:"params"`
	Performance algorithm.Performance `json:"performance"`
}

func (p AlgorithmPayload) algorithm() (algorithm.Algorithm, error) {
	a, err := catalog.AlgorithmSeed{
		ID:          p.ID,
		Name:        p.Name,
		Type:        p.Type,
		Active:      p.Active,
		Priority:    p.Priority,
		Params:      p.Params,
		Performance: p.Performance,
	}.Build()
	if err != nil {
		return algorithm.Algorithm{}, types.NewArgumentError("algorithm", err.Error())
	}
	return a, nil
}

// AlgorithmView is an algorithm with its parameters rendered
type AlgorithmView struct {
	algorithm.Algorithm
	Params algorithm.ParamsSpec `json:"params"`
}

func algorithmView(a algorithm.Algorithm) AlgorithmView {
	return AlgorithmView{Algorithm: a, Params: algorithm.SpecOf(a.Params)}
}

// VenuePayload registers a new venue
type VenuePayload struct {
	ID           string        `json:"id" validate:"required"`
	Name         string        `json:"name"`
	Type         string        `json:"type" validate:"required"`
	Connectivity string        `json:"connectivity"`
	Active       *bool         `json:"active,omitempty"`
	Metrics      venue.Metrics `json:"metrics"`
}

func (p VenuePayload) venue(now time.Time) (venue.Venue, error) {
	if err := p.Metrics.Validate(); err != nil {
		return venue.Venue{}, types.NewArgumentError("metrics", err.Error())
	}
	v, err := catalog.VenueSeed{
		ID:           p.ID,
		Name:         p.Name,
		Type:         p.Type,
		Connectivity: p.Connectivity,
		Active:       p.Active,
		Metrics:      p.Metrics,
	}.Build(now)
	if err != nil {
		return venue.Venue{}, types.NewArgumentError("venue", err.Error())
	}
	return v, nil
}

// MetricsPayload is a metric push for one venue. Timestamp defaults to the
// server clock.
type MetricsPayload struct {
	LatencyMs      float64    `json:"latency_ms" validate:"gte=0"`
	FillRate       float64    `json:"fill_rate" validate:"gte=0,lte=1"`
	SlippageBps    float64    `json:"slippage_bps" validate:"gte=-10000,lte=10000"`
	LiquidityScore float64    `json:"liquidity_score" validate:"gte=0,lte=100"`
	CostBps        float64    `json:"cost_bps" validate:"gte=0"`
	MarketShare    float64    `json:"market_share" validate:"gte=0,lte=100"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

func (p MetricsPayload) metrics() venue.Metrics {
	return venue.Metrics{
		LatencyMs:      p.LatencyMs,
		FillRate:       p.FillRate,
		SlippageBps:    p.SlippageBps,
		LiquidityScore: p.LiquidityScore,
		CostBps:        p.CostBps,
		MarketShare:    p.MarketShare,
	}
}

// ActivePayload toggles a rule, algorithm or venue
type ActivePayload struct {
	Active *bool `json:"active" validate:"required"`
}

// PriorityPayload changes an algorithm priority
type PriorityPayload struct {
	Priority *int `json:"priority" validate:"required,gte=0"`
}

func pathMismatch(path, body string) error {
	return types.NewArgumentError("id", fmt.Sprintf("body id %q does not match path id %q", body, path))
}
