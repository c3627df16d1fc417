package algorithm

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// DefaultPerformanceWindow is the number of samples kept per algorithm
const DefaultPerformanceWindow = 100

// Performance is the rolling execution quality of an algorithm
type Performance struct {
	AvgSlippageBps float64       `json:"avg_slippage_bps" yaml:"avg_slippage_bps"`
	FillRate       float64       `json:"fill_rate" yaml:"fill_rate"`
	ExecutionTime  time.Duration `json:"execution_time" yaml:"execution_time"`
	CostSavings    float64       `json:"cost_savings" yaml:"cost_savings"` // fraction of gross cost, e.g. 0.12
	Samples        int           `json:"samples" yaml:"-"`
}

// Sample is one execution outcome reported by the execution subsystem
type Sample struct {
	SlippageBps   float64       `json:"slippage_bps"`
	FillRate      float64       `json:"fill_rate"`
	ExecutionTime time.Duration `json:"execution_time"`
	CostSavings   float64       `json:"cost_savings"`
}

// Validate checks the snapshot ranges
func (p Performance) Validate() error {
	return checkQuality(p.AvgSlippageBps, p.FillRate, p.ExecutionTime, p.CostSavings)
}

// Validate checks the sample ranges
func (s Sample) Validate() error {
	return checkQuality(s.SlippageBps, s.FillRate, s.ExecutionTime, s.CostSavings)
}

// checkQuality rejects non-finite values; fill rate and cost savings are
// fractions in [0,1].
func checkQuality(slippageBps, fillRate float64, execTime time.Duration, costSavings float64) error {
	switch {
	case math.IsNaN(slippageBps) || math.IsInf(slippageBps, 0):
		return fmt.Errorf("slippage must be finite, got %v", slippageBps)
	case !(fillRate >= 0 && fillRate <= 1):
		return fmt.Errorf("fill rate must be in [0,1], got %v", fillRate)
	case execTime < 0:
		return fmt.Errorf("execution time must be >= 0, got %v", execTime)
	case !(costSavings >= 0 && costSavings <= 1):
		return fmt.Errorf("cost savings must be in [0,1], got %v", costSavings)
	}
	return nil
}

// Algorithm is a configured execution algorithm
type Algorithm struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Type        types.AlgorithmType `json:"type"`
	Params      Params              `json:"-"`
	Performance Performance         `json:"performance"`
	Active      bool                `json:"active"`
	Priority    int                 `json:"priority"`
}

type entry struct {
	algo   Algorithm
	window []Sample
	next   int
}

// Catalog holds the configured algorithms and their performance windows
type Catalog struct {
	mu         sync.RWMutex
	algorithms map[string]*entry
	windowSize int
	logger     *logrus.Entry
}

// NewCatalog creates a catalog keeping windowSize samples per algorithm
func NewCatalog(windowSize int, logger *logrus.Entry) *Catalog {
	if windowSize <= 0 {
		windowSize = DefaultPerformanceWindow
	}
	if logger == nil {
		logger = logrus.WithField("component", "algorithm-catalog")
	}
	return &Catalog{
		algorithms: make(map[string]*entry),
		windowSize: windowSize,
		logger:     logger,
	}
}

// Register adds an algorithm. Its Performance is the seed snapshot used until
// the first sample arrives.
func (c *Catalog) Register(a Algorithm) error {
	if a.ID == "" {
		return fmt.Errorf("algorithm id is required")
	}
	if !a.Type.Valid() {
		return fmt.Errorf("algorithm %s: invalid type %q", a.ID, a.Type)
	}
	if a.Params == nil {
		p, err := ParamsSpec{}.Build(a.Type)
		if err != nil {
			return fmt.Errorf("algorithm %s: %w", a.ID, err)
		}
		a.Params = p
	}
	if a.Params.AlgorithmType() != a.Type {
		return fmt.Errorf("algorithm %s: %s params for %s algorithm", a.ID, a.Params.AlgorithmType(), a.Type)
	}
	if err := a.Params.Validate(); err != nil {
		return fmt.Errorf("algorithm %s: %w", a.ID, err)
	}
	if err := a.Performance.Validate(); err != nil {
		return fmt.Errorf("algorithm %s: performance: %w", a.ID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.algorithms[a.ID]; exists {
		return fmt.Errorf("algorithm %s: %w", a.ID, types.ErrAlreadyExists)
	}
	a.Performance.Samples = 0
	c.algorithms[a.ID] = &entry{algo: a}

	c.logger.WithFields(logrus.Fields{"algorithm": a.ID, "type": a.Type, "priority": a.Priority}).Info("Algorithm registered")
	return nil
}

// Get returns a copy of the algorithm
func (c *Catalog) Get(id string) (Algorithm, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.algorithms[id]
	if !ok {
		return Algorithm{}, fmt.Errorf("algorithm %s: %w", id, types.ErrNotFound)
	}
	return e.algo, nil
}

// ListActive returns active algorithms ordered by priority, then id
func (c *Catalog) ListActive() []Algorithm {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Algorithm, 0, len(c.algorithms))
	for _, e := range c.algorithms {
		if e.algo.Active {
			result = append(result, e.algo)
		}
	}
	SortByPriority(result)
	return result
}

// List returns every algorithm ordered by priority, then id
func (c *Catalog) List() []Algorithm {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Algorithm, 0, len(c.algorithms))
	for _, e := range c.algorithms {
		result = append(result, e.algo)
	}
	SortByPriority(result)
	return result
}

// SetActive toggles an algorithm
func (c *Catalog) SetActive(id string, active bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.algorithms[id]
	if !ok {
		return fmt.Errorf("algorithm %s: %w", id, types.ErrNotFound)
	}
	e.algo.Active = active
	c.logger.WithFields(logrus.Fields{"algorithm": id, "active": active}).Info("Algorithm activation changed")
	return nil
}

// SetPriority changes the precedence of an algorithm (lower wins)
func (c *Catalog) SetPriority(id string, priority int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.algorithms[id]
	if !ok {
		return fmt.Errorf("algorithm %s: %w", id, types.ErrNotFound)
	}
	e.algo.Priority = priority
	return nil
}

// RecordPerformanceSample folds an execution outcome into the last-N window
// and recomputes the performance snapshot as the window mean.
func (c *Catalog) RecordPerformanceSample(id string, s Sample) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("algorithm %s: sample: %w", id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.algorithms[id]
	if !ok {
		return fmt.Errorf("algorithm %s: %w", id, types.ErrNotFound)
	}

	if len(e.window) < c.windowSize {
		e.window = append(e.window, s)
	} else {
		e.window[e.next] = s
	}
	e.next = (e.next + 1) % c.windowSize

	e.algo.Performance = meanOf(e.window)
	return nil
}

func meanOf(window []Sample) Performance {
	var p Performance
	if len(window) == 0 {
		return p
	}

	var execTotal time.Duration
	for _, s := range window {
		p.AvgSlippageBps += s.SlippageBps
		p.FillRate += s.FillRate
		p.CostSavings += s.CostSavings
		execTotal += s.ExecutionTime
	}

	n := float64(len(window))
	p.AvgSlippageBps /= n
	p.FillRate /= n
	p.CostSavings /= n
	p.ExecutionTime = execTotal / time.Duration(len(window))
	p.Samples = len(window)
	return p
}

// SortByPriority orders algorithms by priority ascending, then id
func SortByPriority(algos []Algorithm) {
	sort.SliceStable(algos, func(i, j int) bool {
		if algos[i].Priority != algos[j].Priority {
			return algos[i].Priority < algos[j].Priority
		}
		return algos[i].ID < algos[j].ID
	})
}
