// Package catalog loads the venue, algorithm and rule seed file.
package catalog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/types"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Seed is the parsed seed file
type Seed struct {
	Venues     []VenueSeed     `yaml:"venues"`
	Algorithms []AlgorithmSeed `yaml:"algorithms"`
	Rules      []RuleSeed      `yaml:"rules"`
}

// VenueSeed describes one venue
type VenueSeed struct {
	ID           string        `yaml:"id"`
	Name         string        `yaml:"name"`
	Type         string        `yaml:"type"`
	Connectivity string        `yaml:"connectivity"`
	Active       *bool         `yaml:"active"`
	Metrics      venue.Metrics `yaml:"metrics"`
}

// AlgorithmSeed describes one algorithm
type AlgorithmSeed struct {
	ID          string                `yaml:"id"`
	Name        string                `yaml:"name"`
	Type        string                `yaml:"type"`
	Active      *bool                 `yaml:"active"`
	Priority    int                   `yaml:"priority"`
	Params      algorithm.ParamsSpec  `yaml:"params"`
	Performance algorithm.Performance `yaml:"performance"`
}

// RuleSeed describes one routing rule. Sizes are decimal strings and the
// time window uses HH:MM.
type RuleSeed struct {
	ID        string        `yaml:"id"`
	Name      string        `yaml:"name"`
	Priority  int           `yaml:"priority"`
	Active    *bool         `yaml:"active"`
	Condition ConditionSeed `yaml:"condition"`
	Action    ActionSeed    `yaml:"action"`
}

// ConditionSeed is the file form of rules.Condition
type ConditionSeed struct {
	Symbol          string   `yaml:"symbol"`
	MinSize         string   `yaml:"min_size"`
	MaxSize         string   `yaml:"max_size"`
	MinVolatility   *float64 `yaml:"min_volatility"`
	MaxVolatility   *float64 `yaml:"max_volatility"`
	MaxSpread       *float64 `yaml:"max_spread"`
	TimeWindow      string   `yaml:"time_window"` // "09:15-15:30"
	MarketCondition string   `yaml:"market_condition"`
}

// ActionSeed is the file form of rules.Action
type ActionSeed struct {
	Algorithm  string        `yaml:"algorithm"`
	Venues     []string      `yaml:"venues"`
	MaxSlicing int           `yaml:"max_slicing"`
	TimeLimit  time.Duration `yaml:"time_limit"`
}

// Parse decodes seed YAML
func Parse(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse seed: %w", err)
	}
	return &s, nil
}

// LoadFile reads and decodes a seed file
func LoadFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed %s: %w", path, err)
	}
	return Parse(data)
}

// Apply registers the seed's venues, algorithms and rules. Venue metrics
// without a timestamp are stamped with now.
func (s *Seed) Apply(venues *venue.Registry, algos *algorithm.Catalog, ruleSet *rules.Set, now time.Time) error {
	for _, vs := range s.Venues {
		v, err := vs.Build(now)
		if err != nil {
			return err
		}
		if err := venues.Register(v); err != nil {
			return fmt.Errorf("venue %s: %w", vs.ID, err)
		}
	}

	for _, as := range s.Algorithms {
		a, err := as.Build()
		if err != nil {
			return err
		}
		if err := algos.Register(a); err != nil {
			return fmt.Errorf("algorithm %s: %w", as.ID, err)
		}
	}

	built := make([]rules.Rule, 0, len(s.Rules))
	for _, rs := range s.Rules {
		r, err := rs.Build()
		if err != nil {
			return err
		}
		built = append(built, r)
	}
	if len(built) > 0 {
		if err := ruleSet.Replace(built); err != nil {
			return fmt.Errorf("seed rules: %w", err)
		}
	}
	return nil
}

// Build converts the seed form into a venue, stamping metrics without a
// timestamp with now
func (vs VenueSeed) Build(now time.Time) (venue.Venue, error) {
	vt, err := types.ParseVenueType(vs.Type)
	if err != nil {
		return venue.Venue{}, fmt.Errorf("venue %s: %w", vs.ID, err)
	}

	m := vs.Metrics
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = now
	}
	name := vs.Name
	if name == "" {
		name = vs.ID
	}

	return venue.Venue{
		ID:           vs.ID,
		Name:         name,
		Type:         vt,
		Connectivity: types.Connectivity(strings.ToUpper(vs.Connectivity)),
		Active:       boolOr(vs.Active, true),
		Metrics:      m,
	}, nil
}

// Build converts the seed form into an algorithm with validated parameters
func (as AlgorithmSeed) Build() (algorithm.Algorithm, error) {
	at, err := types.ParseAlgorithmType(as.Type)
	if err != nil {
		return algorithm.Algorithm{}, fmt.Errorf("algorithm %s: %w", as.ID, err)
	}
	params, err := as.Params.Build(at)
	if err != nil {
		return algorithm.Algorithm{}, fmt.Errorf("algorithm %s: %w", as.ID, err)
	}
	if err := as.Performance.Validate(); err != nil {
		return algorithm.Algorithm{}, fmt.Errorf("algorithm %s: performance: %w", as.ID, err)
	}
	name := as.Name
	if name == "" {
		name = as.ID
	}

	return algorithm.Algorithm{
		ID:          as.ID,
		Name:        name,
		Type:        at,
		Params:      params,
		Performance: as.Performance,
		Active:      boolOr(as.Active, true),
		Priority:    as.Priority,
	}, nil
}

// Build converts the seed form into a validated rule
func (rs RuleSeed) Build() (rules.Rule, error) {
	r := rules.Rule{
		ID:       rs.ID,
		Name:     rs.Name,
		Priority: rs.Priority,
		Active:   boolOr(rs.Active, true),
		Action: rules.Action{
			AlgorithmID: rs.Action.Algorithm,
			Venues:      rs.Action.Venues,
			MaxSlicing:  rs.Action.MaxSlicing,
			TimeLimit:   rs.Action.TimeLimit,
		},
	}

	c := rs.Condition
	if c.Symbol != "" {
		sym := c.Symbol
		r.Condition.Symbol = &sym
	}
	if c.MinSize != "" {
		d, err := decimal.NewFromString(c.MinSize)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("rule %s: min_size: %w", rs.ID, err)
		}
		r.Condition.MinSize = &d
	}
	if c.MaxSize != "" {
		d, err := decimal.NewFromString(c.MaxSize)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("rule %s: max_size: %w", rs.ID, err)
		}
		r.Condition.MaxSize = &d
	}
	r.Condition.MinVolatility = c.MinVolatility
	r.Condition.MaxVolatility = c.MaxVolatility
	r.Condition.MaxSpread = c.MaxSpread
	if c.TimeWindow != "" {
		w, err := ParseTimeWindow(c.TimeWindow)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("rule %s: %w", rs.ID, err)
		}
		r.Condition.TimeWindow = &w
	}
	if c.MarketCondition != "" {
		mc, err := types.ParseMarketCondition(c.MarketCondition)
		if err != nil {
			return rules.Rule{}, fmt.Errorf("rule %s: %w", rs.ID, err)
		}
		r.Condition.MarketCondition = &mc
	}

	if err := r.Validate(); err != nil {
		return rules.Rule{}, err
	}
	return r, nil
}

// ParseTimeWindow parses "HH:MM-HH:MM"
func ParseTimeWindow(s string) (rules.TimeWindow, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return rules.TimeWindow{}, fmt.Errorf("time window %q: want HH:MM-HH:MM", s)
	}
	start, err := types.ParseMinuteOfDay(strings.TrimSpace(parts[0]))
	if err != nil {
		return rules.TimeWindow{}, fmt.Errorf("time window %q: %w", s, err)
	}
	end, err := types.ParseMinuteOfDay(strings.TrimSpace(parts[1]))
	if err != nil {
		return rules.TimeWindow{}, fmt.Errorf("time window %q: %w", s, err)
	}
	return rules.TimeWindow{Start: start, End: end}, nil
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
