package rules

import (
	"fmt"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
)

// TimeWindow is an inclusive minutes-since-midnight range. Start > End wraps
// past midnight.
type TimeWindow struct {
	Start int `json:"start" yaml:"start"`
	End   int `json:"end" yaml:"end"`
}

// Contains reports whether minute falls inside the window
func (w TimeWindow) Contains(minute int) bool {
	if w.Start <= w.End {
		return minute >= w.Start && minute <= w.End
	}
	return minute >= w.Start || minute <= w.End
}

func (w TimeWindow) String() string {
	return types.FormatMinuteOfDay(w.Start) + "-" + types.FormatMinuteOfDay(w.End)
}

// Condition is a conjunction of optional predicates. A nil predicate always holds.
type Condition struct {
	Symbol          *string                `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	MinSize         *decimal.Decimal       `json:"min_size,omitempty" yaml:"min_size,omitempty"`
	MaxSize         *decimal.Decimal       `json:"max_size,omitempty" yaml:"max_size,omitempty"`
	MinVolatility   *float64               `json:"min_volatility,omitempty" yaml:"min_volatility,omitempty"`
	MaxVolatility   *float64               `json:"max_volatility,omitempty" yaml:"max_volatility,omitempty"`
	MaxSpread       *float64               `json:"max_spread,omitempty" yaml:"max_spread,omitempty"`
	TimeWindow      *TimeWindow            `json:"time_window,omitempty" yaml:"time_window,omitempty"`
	MarketCondition *types.MarketCondition `json:"market_condition,omitempty" yaml:"market_condition,omitempty"`
}

// Action is what a matching rule asks the router to do
type Action struct {
	AlgorithmID string        `json:"algorithm_id" yaml:"algorithm_id"`
	Venues      []string      `json:"venues,omitempty" yaml:"venues,omitempty"`
	MaxSlicing  int           `json:"max_slicing,omitempty" yaml:"max_slicing,omitempty"` // 0 = no cap
	TimeLimit   time.Duration `json:"time_limit,omitempty" yaml:"time_limit,omitempty"`   // 0 = none
}

// Rule is a prioritised condition -> action pair
type Rule struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Priority  int       `json:"priority" yaml:"priority"`
	Condition Condition `json:"condition" yaml:"condition"`
	Action    Action    `json:"action" yaml:"action"`
	Active    bool      `json:"active" yaml:"active"`
}

// Validate checks a rule for internal consistency
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if r.Action.AlgorithmID == "" {
		return fmt.Errorf("rule %s: action algorithm id is required", r.ID)
	}
	if r.Action.MaxSlicing < 0 {
		return fmt.Errorf("rule %s: max slicing must be >= 0", r.ID)
	}
	if r.Action.TimeLimit < 0 {
		return fmt.Errorf("rule %s: time limit must be >= 0", r.ID)
	}

	c := r.Condition
	if c.MinSize != nil && c.MaxSize != nil && c.MinSize.GreaterThan(*c.MaxSize) {
		return fmt.Errorf("rule %s: min size above max size", r.ID)
	}
	if c.MinVolatility != nil && c.MaxVolatility != nil && *c.MinVolatility > *c.MaxVolatility {
		return fmt.Errorf("rule %s: min volatility above max volatility", r.ID)
	}
	if w := c.TimeWindow; w != nil {
		if w.Start < 0 || w.Start >= types.MinutesPerDay || w.End < 0 || w.End >= types.MinutesPerDay {
			return fmt.Errorf("rule %s: time window %d-%d out of range", r.ID, w.Start, w.End)
		}
	}
	if c.MarketCondition != nil && !c.MarketCondition.Valid() {
		return fmt.Errorf("rule %s: invalid market condition %q", r.ID, *c.MarketCondition)
	}
	return nil
}

// Clone returns a deep copy so stored rules are never aliased by callers
func (r Rule) Clone() Rule {
	out := r
	c := r.Condition
	if c.Symbol != nil {
		v := *c.Symbol
		out.Condition.Symbol = &v
	}
	if c.MinSize != nil {
		v := *c.MinSize
		out.Condition.MinSize = &v
	}
	if c.MaxSize != nil {
		v := *c.MaxSize
		out.Condition.MaxSize = &v
	}
	if c.MinVolatility != nil {
		v := *c.MinVolatility
		out.Condition.MinVolatility = &v
	}
	if c.MaxVolatility != nil {
		v := *c.MaxVolatility
		out.Condition.MaxVolatility = &v
	}
	if c.MaxSpread != nil {
		v := *c.MaxSpread
		out.Condition.MaxSpread = &v
	}
	if c.TimeWindow != nil {
		v := *c.TimeWindow
		out.Condition.TimeWindow = &v
	}
	if c.MarketCondition != nil {
		v := *c.MarketCondition
		out.Condition.MarketCondition = &v
	}
	if r.Action.Venues != nil {
		out.Action.Venues = append([]string(nil), r.Action.Venues...)
	}
	return out
}
