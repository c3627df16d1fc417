package router

import (
	"context"
	"testing"
	"time"

	"github.com/mExOms/sor/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	symbols []string
}

func (p *fakePublisher) PublishDecision(_ context.Context, symbol string, _ interface{}) error {
	p.symbols = append(p.symbols, symbol)
	return nil
}

func TestSinks(t *testing.T) {
	c := cache.NewMemoryCache(100, 0)
	defer c.Close()
	cacheSink := NewCacheSink(c, time.Hour)
	pub := &fakePublisher{}

	svc := newTestService(Snapshot{Venues: nseBSE(), Algorithms: testAlgorithms(), Rules: testRules()},
		WithSink(cacheSink), WithSink(NewBusSink(pub)))

	d, err := svc.RouteOrder(context.Background(), testOrder(800))
	require.NoError(t, err)

	got, ok := cacheSink.Lookup(d.ID)
	require.True(t, ok)
	assert.Equal(t, d, got)
	assert.Equal(t, []string{"TCS"}, pub.symbols)

	_, ok = cacheSink.Lookup("missing")
	assert.False(t, ok)
}
