package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// DecisionSink receives every decision produced, e.g. for telemetry
type DecisionSink interface {
	Publish(ctx context.Context, decision *RoutingDecision) error
}

// Observer is told about every routing attempt. decision is nil when err is set.
type Observer interface {
	ObserveRoute(order types.OrderContext, decision *RoutingDecision, err error, elapsed time.Duration)
}

// Option configures a RoutingService
type Option func(*RoutingService)

// WithSink adds a decision sink
func WithSink(sink DecisionSink) Option {
	return func(s *RoutingService) { s.sinks = append(s.sinks, sink) }
}

// WithObserver adds a routing observer
func WithObserver(o Observer) Option {
	return func(s *RoutingService) { s.observers = append(s.observers, o) }
}

// WithIDGenerator replaces the decision id source
func WithIDGenerator(gen func() string) Option {
	return func(s *RoutingService) { s.newID = gen }
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Entry) Option {
	return func(s *RoutingService) { s.logger = logger }
}

// RoutingService owns the routing pipeline: rule selection, venue allocation
// and decision composition over one snapshot per order
type RoutingService struct {
	config       Config
	provider     SnapshotProvider
	engine       *rules.Engine
	allocator    *Allocator
	composer     *Composer
	knownSymbols map[string]bool
	sinks        []DecisionSink
	observers    []Observer
	newID        func() string
	logger       *logrus.Entry
}

// NewRoutingService creates a routing service reading inputs from provider
func NewRoutingService(config Config, provider SnapshotProvider, opts ...Option) *RoutingService {
	if config.Weights.Sum() == 0 {
		config.Weights = algorithm.DefaultScoringWeights()
	}

	s := &RoutingService{
		config:    config,
		provider:  provider,
		engine:    rules.NewEngine(),
		allocator: NewAllocator(config.QuantityPrecision, config.MaxMetricAge, config.ExcludeStaleVenues),
		composer:  NewComposer(),
		newID:     func() string { return uuid.NewString() },
		logger:    logrus.WithField("component", "routing-service"),
	}
	if len(config.KnownSymbols) > 0 {
		s.knownSymbols = make(map[string]bool, len(config.KnownSymbols))
		for _, sym := range config.KnownSymbols {
			s.knownSymbols[sym] = true
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RouteOrder produces a routing decision for one order. It fails with
// ErrInvalidOrderContext, ErrNoEligibleVenues or ErrNotFound (no usable
// algorithm); no partial decision is ever returned.
func (s *RoutingService) RouteOrder(ctx context.Context, order types.OrderContext) (*RoutingDecision, error) {
	start := time.Now()

	decision, err := s.route(ctx, order)
	for _, o := range s.observers {
		o.ObserveRoute(order, decision, err, time.Since(start))
	}
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"order_id": order.OrderID,
			"symbol":   order.Symbol,
			"quantity": order.Quantity.String(),
			"kind":     ErrorKind(err),
		}).WithError(err).Warn("Routing failed")
		return nil, err
	}

	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, decision); err != nil {
			s.logger.WithField("decision", decision.ID).WithError(err).Error("Failed to publish decision")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"decision":   decision.ID,
		"symbol":     decision.Symbol,
		"algorithm":  decision.AlgorithmID,
		"rule":       decision.RuleID,
		"venues":     len(decision.Allocations),
		"confidence": decision.Confidence,
	}).Debug("Order routed")
	return decision, nil
}

func (s *RoutingService) route(ctx context.Context, order types.OrderContext) (*RoutingDecision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.validate(order); err != nil {
		return nil, err
	}

	snap := s.provider.Snapshot()

	algos := make(map[string]algorithm.Algorithm, len(snap.Algorithms))
	for _, a := range snap.Algorithms {
		algos[a.ID] = a
	}
	available := func(id string) bool {
		a, ok := algos[id]
		return ok && a.Active
	}

	eval := s.engine.SelectRule(order, snap.Rules, available)
	reasoning := append([]string(nil), eval.Reasoning...)

	var (
		algo       algorithm.Algorithm
		allowlist  []string
		maxSlicing int
	)
	if eval.Match != nil {
		algo = algos[eval.Match.Action.AlgorithmID]
		allowlist = eval.Match.Action.Venues
		maxSlicing = eval.Match.Action.MaxSlicing
		reasoning = append(reasoning, fmt.Sprintf("algorithm %s (%s) selected by rule %s", algo.ID, algo.Type, eval.Match.RuleID))
	} else {
		var note string
		var err error
		algo, note, err = s.defaultAlgorithm(snap.Algorithms, available)
		if err != nil {
			return nil, err
		}
		reasoning = append(reasoning, note)
	}

	weights := s.config.Weights
	switch p := algo.Params.(type) {
	case algorithm.SmartParams:
		if p.Weights != nil {
			weights = *p.Weights
			reasoning = append(reasoning, fmt.Sprintf("scoring weights overridden by algorithm %s", algo.ID))
		}
	case algorithm.TWAPParams:
		reasoning = append(reasoning, fmt.Sprintf("twap schedule: %d slices every %s over %s", p.Slices(), p.SliceInterval, p.Duration))
	}

	allocation, err := s.allocator.Allocate(AllocationRequest{
		Order:      order,
		Algorithm:  algo,
		Venues:     snap.Venues,
		Allowlist:  allowlist,
		MaxSlicing: maxSlicing,
		Weights:    weights,
	})
	if err != nil {
		return nil, err
	}

	decision := s.composer.Compose(ComposeInput{
		Order:      order,
		Match:      eval.Match,
		Algorithm:  algo,
		Allocation: allocation,
		Weights:    weights,
		Reasoning:  reasoning,
	})
	decision.ID = s.newID()
	return decision, nil
}

// defaultAlgorithm resolves the configured default, falling back to the
// highest precedence active algorithm
func (s *RoutingService) defaultAlgorithm(all []algorithm.Algorithm, available func(string) bool) (algorithm.Algorithm, string, error) {
	for _, a := range all {
		if a.ID == s.config.DefaultAlgorithm && available(a.ID) {
			return a, fmt.Sprintf("default algorithm %s (%s) used", a.ID, a.Type), nil
		}
	}

	active := make([]algorithm.Algorithm, 0, len(all))
	for _, a := range all {
		if a.Active {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return algorithm.Algorithm{}, "", fmt.Errorf("no active algorithm for default path: %w", types.ErrNotFound)
	}
	algorithm.SortByPriority(active)

	a := active[0]
	return a, fmt.Sprintf("default algorithm %s unavailable, using %s (%s) by priority",
		s.config.DefaultAlgorithm, a.ID, a.Type), nil
}

func (s *RoutingService) validate(order types.OrderContext) error {
	if err := order.Validate(); err != nil {
		return err
	}
	if s.knownSymbols != nil && !s.knownSymbols[order.Symbol] {
		return types.NewValidationError("symbol", fmt.Sprintf("unknown symbol %q", order.Symbol))
	}
	return nil
}

// ErrorKind names the domain error class of err for logs and metrics
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, types.ErrInvalidOrderContext):
		return "invalid_order_context"
	case errors.Is(err, types.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, types.ErrNoEligibleVenues):
		return "no_eligible_venues"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
