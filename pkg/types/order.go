package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderContext is the order plus the market snapshot needed to route it
type OrderContext struct {
	OrderID         string           `json:"order_id,omitempty"`
	Symbol          string           `json:"symbol"`
	Side            OrderSide        `json:"side"`
	Quantity        decimal.Decimal  `json:"quantity"`
	LimitPrice      *decimal.Decimal `json:"limit_price,omitempty"`
	Volatility      float64          `json:"volatility"`
	Spread          float64          `json:"spread"`
	MarketCondition MarketCondition  `json:"market_condition"`
	TimeOfDay       int              `json:"time_of_day"` // minutes since midnight, trading-calendar time
	Timestamp       time.Time        `json:"timestamp"`
}

// Validate rejects orders that cannot be routed. An empty market condition
// is read as NORMAL.
func (o OrderContext) Validate() error {
	switch {
	case o.Symbol == "":
		return NewValidationError("symbol", "is required")
	case !o.Side.Valid():
		return NewValidationError("side", "must be BUY or SELL")
	case !o.Quantity.IsPositive():
		return NewValidationError("quantity", "must be positive")
	case o.LimitPrice != nil && !o.LimitPrice.IsPositive():
		return NewValidationError("limit_price", "must be positive when set")
	case o.Volatility < 0:
		return NewValidationError("volatility", "must be >= 0")
	case o.Spread < 0:
		return NewValidationError("spread", "must be >= 0")
	case o.MarketCondition != "" && !o.MarketCondition.Valid():
		return NewValidationError("market_condition", "must be NORMAL, VOLATILE or QUIET")
	case o.TimeOfDay < 0 || o.TimeOfDay >= MinutesPerDay:
		return NewValidationError("time_of_day", "must be minutes since midnight in [0,1439]")
	}
	return nil
}

// Condition returns the market condition, defaulting to NORMAL
func (o OrderContext) Condition() MarketCondition {
	if o.MarketCondition == "" {
		return MarketNormal
	}
	return o.MarketCondition
}
