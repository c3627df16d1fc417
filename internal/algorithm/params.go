package algorithm

import (
	"fmt"
	"time"

	"github.com/mExOms/sor/pkg/types"
)

// Params is the per-type configuration of an algorithm. Each algorithm type
// has exactly one implementation.
type Params interface {
	AlgorithmType() types.AlgorithmType
	Validate() error
}

// ScoringWeights are the venue scoring weights used by the allocator
type ScoringWeights struct {
	Liquidity float64 `json:"liquidity" yaml:"liquidity" mapstructure:"liquidity"`
	Slippage  float64 `json:"slippage" yaml:"slippage" mapstructure:"slippage"`
	FillRate  float64 `json:"fill_rate" yaml:"fill_rate" mapstructure:"fill_rate"`
	Latency   float64 `json:"latency" yaml:"latency" mapstructure:"latency"`
	Cost      float64 `json:"cost" yaml:"cost" mapstructure:"cost"`
}

// DefaultScoringWeights returns the stock weighting
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Liquidity: 0.35,
		Slippage:  0.25,
		FillRate:  0.2,
		Latency:   0.1,
		Cost:      0.1,
	}
}

// Sum returns the total weight
func (w ScoringWeights) Sum() float64 {
	return w.Liquidity + w.Slippage + w.FillRate + w.Latency + w.Cost
}

// Validate rejects negative or all-zero weights
func (w ScoringWeights) Validate() error {
	if w.Liquidity < 0 || w.Slippage < 0 || w.FillRate < 0 || w.Latency < 0 || w.Cost < 0 {
		return fmt.Errorf("scoring weights must be non-negative")
	}
	if w.Sum() == 0 {
		return fmt.Errorf("scoring weights must not all be zero")
	}
	return nil
}

// SmartParams configures the SMART multi-venue router
type SmartParams struct {
	// Weights overrides the allocator defaults when set
	Weights *ScoringWeights `json:"weights,omitempty" yaml:"weights,omitempty"`
}

func (SmartParams) AlgorithmType() types.AlgorithmType { return types.AlgorithmSmart }

func (p SmartParams) Validate() error {
	if p.Weights != nil {
		return p.Weights.Validate()
	}
	return nil
}

// VWAPParams configures volume-weighted execution
type VWAPParams struct {
	ParticipationRate float64 `json:"participation_rate" yaml:"participation_rate"`
	MaxParticipation  float64 `json:"max_participation,omitempty" yaml:"max_participation,omitempty"`
}

func (VWAPParams) AlgorithmType() types.AlgorithmType { return types.AlgorithmVWAP }

func (p VWAPParams) Validate() error {
	if p.ParticipationRate <= 0 || p.ParticipationRate > 1 {
		return fmt.Errorf("vwap participation rate must be in (0,1], got %v", p.ParticipationRate)
	}
	if p.MaxParticipation != 0 && p.MaxParticipation < p.ParticipationRate {
		return fmt.Errorf("vwap max participation below participation rate")
	}
	return nil
}

// TWAPParams configures time-sliced execution
type TWAPParams struct {
	Duration      time.Duration `json:"duration" yaml:"duration"`
	SliceInterval time.Duration `json:"slice_interval" yaml:"slice_interval"`
}

func (TWAPParams) AlgorithmType() types.AlgorithmType { return types.AlgorithmTWAP }

func (p TWAPParams) Validate() error {
	if p.Duration <= 0 || p.SliceInterval <= 0 {
		return fmt.Errorf("twap duration and slice interval must be positive")
	}
	if p.SliceInterval > p.Duration {
		return fmt.Errorf("twap slice interval exceeds duration")
	}
	return nil
}

// Slices returns the number of child slices a TWAP run produces
func (p TWAPParams) Slices() int {
	if p.SliceInterval <= 0 {
		return 1
	}
	return int(p.Duration / p.SliceInterval)
}

// ImplementationShortfallParams configures the shortfall minimiser
type ImplementationShortfallParams struct {
	RiskAversion float64 `json:"risk_aversion" yaml:"risk_aversion"`
	Urgency      float64 `json:"urgency" yaml:"urgency"`
}

func (ImplementationShortfallParams) AlgorithmType() types.AlgorithmType {
	return types.AlgorithmImplementationShortfall
}

func (p ImplementationShortfallParams) Validate() error {
	if p.RiskAversion < 0 || p.RiskAversion > 1 {
		return fmt.Errorf("risk aversion must be in [0,1], got %v", p.RiskAversion)
	}
	if p.Urgency < 0 || p.Urgency > 1 {
		return fmt.Errorf("urgency must be in [0,1], got %v", p.Urgency)
	}
	return nil
}

// ArrivalPriceParams configures the arrival-price benchmark strategy
type ArrivalPriceParams struct {
	MaxDeviationBps float64 `json:"max_deviation_bps" yaml:"max_deviation_bps"`
}

func (ArrivalPriceParams) AlgorithmType() types.AlgorithmType { return types.AlgorithmArrivalPrice }

func (p ArrivalPriceParams) Validate() error {
	if p.MaxDeviationBps < 0 {
		return fmt.Errorf("max deviation must be >= 0")
	}
	return nil
}

// LiquiditySeekingParams configures the opportunistic liquidity sweeper
type LiquiditySeekingParams struct {
	MinFillRatio       float64 `json:"min_fill_ratio" yaml:"min_fill_ratio"`
	DarkPoolPreference float64 `json:"dark_pool_preference" yaml:"dark_pool_preference"`
}

func (LiquiditySeekingParams) AlgorithmType() types.AlgorithmType {
	return types.AlgorithmLiquiditySeeking
}

func (p LiquiditySeekingParams) Validate() error {
	if p.MinFillRatio < 0 || p.MinFillRatio > 1 {
		return fmt.Errorf("min fill ratio must be in [0,1]")
	}
	if p.DarkPoolPreference < 0 || p.DarkPoolPreference > 1 {
		return fmt.Errorf("dark pool preference must be in [0,1]")
	}
	return nil
}

// ParamsSpec is the serialisable form of Params: one optional block per type.
// Build picks the block matching the algorithm type.
type ParamsSpec struct {
	Smart                   *SmartParams                   `json:"smart,omitempty" yaml:"smart,omitempty"`
	VWAP                    *VWAPParams                    `json:"vwap,omitempty" yaml:"vwap,omitempty"`
	TWAP                    *TWAPParams                    `json:"twap,omitempty" yaml:"twap,omitempty"`
	ImplementationShortfall *ImplementationShortfallParams `json:"implementation_shortfall,omitempty" yaml:"implementation_shortfall,omitempty"`
	ArrivalPrice            *ArrivalPriceParams            `json:"arrival_price,omitempty" yaml:"arrival_price,omitempty"`
	LiquiditySeeking        *LiquiditySeekingParams        `json:"liquidity_seeking,omitempty" yaml:"liquidity_seeking,omitempty"`
}

// Build returns the Params for t, falling back to the type defaults when the
// matching block is absent
func (s ParamsSpec) Build(t types.AlgorithmType) (Params, error) {
	var p Params
	switch t {
	case types.AlgorithmSmart:
		p = SmartParams{}
		if s.Smart != nil {
			p = *s.Smart
		}
	case types.AlgorithmVWAP:
		p = VWAPParams{ParticipationRate: 0.1}
		if s.VWAP != nil {
			p = *s.VWAP
		}
	case types.AlgorithmTWAP:
		p = TWAPParams{Duration: 30 * time.Minute, SliceInterval: 5 * time.Minute}
		if s.TWAP != nil {
			p = *s.TWAP
		}
	case types.AlgorithmImplementationShortfall:
		p = ImplementationShortfallParams{RiskAversion: 0.5, Urgency: 0.5}
		if s.ImplementationShortfall != nil {
			p = *s.ImplementationShortfall
		}
	case types.AlgorithmArrivalPrice:
		p = ArrivalPriceParams{MaxDeviationBps: 25}
		if s.ArrivalPrice != nil {
			p = *s.ArrivalPrice
		}
	case types.AlgorithmLiquiditySeeking:
		p = LiquiditySeekingParams{MinFillRatio: 0.1, DarkPoolPreference: 0.5}
		if s.LiquiditySeeking != nil {
			p = *s.LiquiditySeeking
		}
	default:
		return nil, fmt.Errorf("unknown algorithm type %q", t)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// SpecOf converts Params back to its serialisable form
func SpecOf(p Params) ParamsSpec {
	var s ParamsSpec
	switch v := p.(type) {
	case SmartParams:
		s.Smart = &v
	case VWAPParams:
		s.VWAP = &v
	case TWAPParams:
		s.TWAP = &v
	case ImplementationShortfallParams:
		s.ImplementationShortfall = &v
	case ArrivalPriceParams:
		s.ArrivalPrice = &v
	case LiquiditySeekingParams:
		s.LiquiditySeeking = &v
	}
	return s
}
