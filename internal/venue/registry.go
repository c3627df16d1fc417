package venue

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// MaxSlippageBps bounds the magnitude of a reported slippage
const MaxSlippageBps = 10000

// Metrics holds the quality metrics of a venue.
// FillRate is in [0,1]; LiquidityScore and MarketShare are in [0,100].
// SlippageBps is signed and bounded by MaxSlippageBps.
type Metrics struct {
	LatencyMs      float64   `json:"latency_ms" yaml:"latency_ms"`
	FillRate       float64   `json:"fill_rate" yaml:"fill_rate"`
	SlippageBps    float64   `json:"slippage_bps" yaml:"slippage_bps"`
	LiquidityScore float64   `json:"liquidity_score" yaml:"liquidity_score"`
	CostBps        float64   `json:"cost_bps" yaml:"cost_bps"`
	MarketShare    float64   `json:"market_share" yaml:"market_share"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"updated_at"`
}

// Validate checks metric ranges. Every metric must be finite.
func (m Metrics) Validate() error {
	for name, x := range map[string]float64{
		"latency":         m.LatencyMs,
		"fill rate":       m.FillRate,
		"slippage":        m.SlippageBps,
		"liquidity score": m.LiquidityScore,
		"cost":            m.CostBps,
		"market share":    m.MarketShare,
	} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("%s must be finite, got %v", name, x)
		}
	}

	switch {
	case m.LatencyMs < 0:
		return fmt.Errorf("latency must be >= 0, got %v", m.LatencyMs)
	case m.FillRate < 0 || m.FillRate > 1:
		return fmt.Errorf("fill rate must be in [0,1], got %v", m.FillRate)
	case m.LiquidityScore < 0 || m.LiquidityScore > 100:
		return fmt.Errorf("liquidity score must be in [0,100], got %v", m.LiquidityScore)
	case m.MarketShare < 0 || m.MarketShare > 100:
		return fmt.Errorf("market share must be in [0,100], got %v", m.MarketShare)
	case m.CostBps < 0:
		return fmt.Errorf("cost must be >= 0, got %v", m.CostBps)
	case math.Abs(m.SlippageBps) > MaxSlippageBps:
		return fmt.Errorf("slippage must be within [-%d,%d] bps, got %v", MaxSlippageBps, MaxSlippageBps, m.SlippageBps)
	}
	return nil
}

// Venue is a tradable execution destination
type Venue struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Type         types.VenueType    `json:"type"`
	Connectivity types.Connectivity `json:"connectivity,omitempty"`
	Active       bool               `json:"active"`
	Metrics      Metrics            `json:"metrics"`
}

// Registry keeps the live venue set. Readers get value copies so a metric
// refresh never tears a view that is already handed out.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]*Venue
	logger *logrus.Entry
}

// NewRegistry creates an empty registry
func NewRegistry(logger *logrus.Entry) *Registry {
	if logger == nil {
		logger = logrus.WithField("component", "venue-registry")
	}
	return &Registry{
		venues: make(map[string]*Venue),
		logger: logger,
	}
}

// Register adds a venue. The id must be unique.
func (r *Registry) Register(v Venue) error {
	if v.ID == "" {
		return fmt.Errorf("venue id is required")
	}
	if !v.Type.Valid() {
		return fmt.Errorf("venue %s: invalid type %q", v.ID, v.Type)
	}
	if err := v.Metrics.Validate(); err != nil {
		return fmt.Errorf("venue %s: %w", v.ID, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.venues[v.ID]; exists {
		return fmt.Errorf("venue %s: %w", v.ID, types.ErrAlreadyExists)
	}
	stored := v
	r.venues[v.ID] = &stored

	r.logger.WithFields(logrus.Fields{"venue": v.ID, "type": v.Type, "active": v.Active}).Info("Venue registered")
	return nil
}

// Get returns a copy of the venue with the given id
func (r *Registry) Get(id string) (Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.venues[id]
	if !ok {
		return Venue{}, fmt.Errorf("venue %s: %w", id, types.ErrNotFound)
	}
	return *v, nil
}

// ListActive returns active venues ordered by id
func (r *Registry) ListActive() []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Venue, 0, len(r.venues))
	for _, v := range r.venues {
		if v.Active {
			result = append(result, *v)
		}
	}
	sortByID(result)
	return result
}

// List returns every venue ordered by id
func (r *Registry) List() []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Venue, 0, len(r.venues))
	for _, v := range r.venues {
		result = append(result, *v)
	}
	sortByID(result)
	return result
}

// UpsertMetrics overwrites the metrics of a venue. Updates stamped earlier
// than the stored metrics are rejected with ErrStaleUpdate.
func (r *Registry) UpsertMetrics(id string, m Metrics, ts time.Time) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("venue %s: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.venues[id]
	if !ok {
		return fmt.Errorf("venue %s: %w", id, types.ErrNotFound)
	}
	if ts.Before(v.Metrics.UpdatedAt) {
		r.logger.WithFields(logrus.Fields{
			"venue":    id,
			"update":   ts,
			"existing": v.Metrics.UpdatedAt,
		}).Warn("Ignoring stale metrics update")
		return fmt.Errorf("venue %s: update at %s older than %s: %w",
			id, ts.Format(time.RFC3339Nano), v.Metrics.UpdatedAt.Format(time.RFC3339Nano), types.ErrStaleUpdate)
	}

	m.UpdatedAt = ts
	v.Metrics = m
	return nil
}

// SetActive toggles whether the venue may receive volume
func (r *Registry) SetActive(id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.venues[id]
	if !ok {
		return fmt.Errorf("venue %s: %w", id, types.ErrNotFound)
	}
	if v.Active != active {
		v.Active = active
		r.logger.WithFields(logrus.Fields{"venue": id, "active": active}).Info("Venue activation changed")
	}
	return nil
}

// Stale returns the ids of venues whose metrics are older than maxAge at now
func (r *Registry) Stale(now time.Time, maxAge time.Duration) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, v := range r.venues {
		if IsStale(*v, now, maxAge) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// IsStale reports whether v's metrics are older than maxAge at now.
// A zero maxAge disables the check.
func IsStale(v Venue, now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(v.Metrics.UpdatedAt) > maxAge
}

func sortByID(venues []Venue) {
	sort.Slice(venues, func(i, j int) bool {
		return venues[i].ID < venues[j].ID
	})
}
