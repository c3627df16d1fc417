package rules

import (
	"fmt"
	"sort"

	"github.com/mExOms/sor/pkg/types"
)

// Match is the winning rule and its action payload
type Match struct {
	RuleID   string
	RuleName string
	Action   Action
}

// AlgorithmLookup reports whether an algorithm id can currently be used
type AlgorithmLookup func(id string) bool

// Evaluation is the outcome of rule selection. Match is nil when no rule
// applied and the caller must use the default algorithm.
type Evaluation struct {
	Match     *Match
	Reasoning []string
}

// Engine evaluates routing rules against an order
type Engine struct{}

// NewEngine creates a rule engine
func NewEngine() *Engine {
	return &Engine{}
}

// SelectRule returns the first active rule, in priority order, whose condition
// holds for order and whose algorithm is available. Rules pointing at an
// unavailable algorithm are skipped and noted in the reasoning.
func (e *Engine) SelectRule(order types.OrderContext, rules []Rule, available AlgorithmLookup) Evaluation {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			ordered = append(ordered, r)
		}
	}
	SortByPriority(ordered)

	var eval Evaluation
	for _, r := range ordered {
		if !Matches(r.Condition, order) {
			continue
		}
		if available != nil && !available(r.Action.AlgorithmID) {
			eval.Reasoning = append(eval.Reasoning,
				fmt.Sprintf("rule %s skipped: algorithm unavailable", r.ID))
			continue
		}

		eval.Match = &Match{
			RuleID:   r.ID,
			RuleName: r.Name,
			Action:   r.Clone().Action,
		}
		eval.Reasoning = append(eval.Reasoning,
			fmt.Sprintf("rule %s (%s, priority %d) matched", r.ID, r.Name, r.Priority))
		return eval
	}

	eval.Reasoning = append(eval.Reasoning, "no routing rule matched")
	return eval
}

// Matches evaluates every present predicate of c with AND semantics. Ranges
// are inclusive on both ends.
func Matches(c Condition, order types.OrderContext) bool {
	if c.Symbol != nil && *c.Symbol != order.Symbol {
		return false
	}
	if c.MinSize != nil && order.Quantity.LessThan(*c.MinSize) {
		return false
	}
	if c.MaxSize != nil && order.Quantity.GreaterThan(*c.MaxSize) {
		return false
	}
	if c.MinVolatility != nil && order.Volatility < *c.MinVolatility {
		return false
	}
	if c.MaxVolatility != nil && order.Volatility > *c.MaxVolatility {
		return false
	}
	if c.MaxSpread != nil && order.Spread > *c.MaxSpread {
		return false
	}
	if c.TimeWindow != nil && !c.TimeWindow.Contains(order.TimeOfDay) {
		return false
	}
	if c.MarketCondition != nil && *c.MarketCondition != order.Condition() {
		return false
	}
	return true
}

// SortByPriority orders rules by priority ascending, ties by id
func SortByPriority(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID < rules[j].ID
	})
}
