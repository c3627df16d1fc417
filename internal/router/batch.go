package router

import (
	"context"
	"sync"

	"github.com/mExOms/sor/pkg/types"
)

// BatchResult pairs one order of a batch with its outcome
type BatchResult struct {
	Order    types.OrderContext
	Decision *RoutingDecision
	Err      error
}

// RouteBatch routes independent orders concurrently. Results keep the input
// order and each order is routed against its own snapshot.
func (s *RoutingService) RouteBatch(ctx context.Context, orders []types.OrderContext) []BatchResult {
	results := make([]BatchResult, len(orders))
	if len(orders) == 0 {
		return results
	}

	workers := s.config.BatchWorkers
	if workers <= 0 || workers > len(orders) {
		workers = len(orders)
	}
	pool := NewWorkerPool(workers)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	for i := range orders {
		i := i
		results[i].Order = orders[i]

		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			results[i].Decision, results[i].Err = s.RouteOrder(ctx, orders[i])
		})
		if err != nil {
			wg.Done()
			results[i].Err = err
		}
	}
	wg.Wait()

	return results
}
