package router

import (
	"context"
	"time"

	"github.com/mExOms/sor/pkg/cache"
)

const decisionKeyPrefix = "decision:"

// CacheSink keeps recent decisions for audit lookup by id
type CacheSink struct {
	cache *cache.MemoryCache
	ttl   time.Duration
}

// NewCacheSink stores decisions in c for ttl
func NewCacheSink(c *cache.MemoryCache, ttl time.Duration) *CacheSink {
	return &CacheSink{cache: c, ttl: ttl}
}

// Publish implements DecisionSink
func (s *CacheSink) Publish(_ context.Context, d *RoutingDecision) error {
	s.cache.Set(decisionKeyPrefix+d.ID, d, s.ttl)
	return nil
}

// Lookup returns a cached decision
func (s *CacheSink) Lookup(id string) (*RoutingDecision, bool) {
	v, ok := s.cache.Get(decisionKeyPrefix + id)
	if !ok {
		return nil, false
	}
	d, ok := v.(*RoutingDecision)
	return d, ok
}

// DecisionPublisher ships a decision to a message bus
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, symbol string, decision interface{}) error
}

// BusSink forwards decisions to a DecisionPublisher, keyed by symbol
type BusSink struct {
	publisher DecisionPublisher
}

// NewBusSink wraps p
func NewBusSink(p DecisionPublisher) *BusSink {
	return &BusSink{publisher: p}
}

// Publish implements DecisionSink
func (s *BusSink) Publish(ctx context.Context, d *RoutingDecision) error {
	return s.publisher.PublishDecision(ctx, d.Symbol, d)
}
