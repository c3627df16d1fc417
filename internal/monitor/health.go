package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/venue"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck inspects one component
type HealthCheck func(ctx context.Context) ComponentHealth

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name        string                 `json:"name"`
	Status      HealthStatus           `json:"status"`
	Message     string                 `json:"message,omitempty"`
	LastChecked time.Time              `json:"last_checked"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// SystemHealth represents the overall service health
type SystemHealth struct {
	Status     HealthStatus      `json:"status"`
	Components []ComponentHealth `json:"components"`
	Version    string            `json:"version"`
	Uptime     string            `json:"uptime"`
	Timestamp  time.Time         `json:"timestamp"`
}

// HealthChecker runs registered checks
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	startTime time.Time
	version   string
	now       func() time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:    make(map[string]HealthCheck),
		startTime: time.Now(),
		version:   version,
		now:       time.Now,
	}
}

// RegisterCheck registers a health check
func (hc *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// CheckHealth runs all checks in parallel. Components are ordered by name.
func (hc *HealthChecker) CheckHealth(ctx context.Context) SystemHealth {
	hc.mu.RLock()
	checks := make(map[string]HealthCheck, len(hc.checks))
	for name, check := range hc.checks {
		checks[name] = check
	}
	hc.mu.RUnlock()

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		components = make([]ComponentHealth, 0, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(n string, c HealthCheck) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			result := c(checkCtx)
			result.Name = n
			result.LastChecked = hc.now()

			mu.Lock()
			components = append(components, result)
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	overall := HealthStatusHealthy
	for _, c := range components {
		if c.Status == HealthStatusUnhealthy {
			overall = HealthStatusUnhealthy
		} else if c.Status == HealthStatusDegraded && overall == HealthStatusHealthy {
			overall = HealthStatusDegraded
		}
	}

	return SystemHealth{
		Status:     overall,
		Components: components,
		Version:    hc.version,
		Uptime:     time.Since(hc.startTime).Round(time.Second).String(),
		Timestamp:  hc.now(),
	}
}

// HTTPHandler serves the health report. Unhealthy maps to 503.
func (hc *HealthChecker) HTTPHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hc.CheckHealth(r.Context())

		statusCode := http.StatusOK
		if health.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(health)
	}
}

// VenueHealthCheck is unhealthy without active venues and degraded while any
// active venue has metrics older than maxAge
func VenueHealthCheck(registry *venue.Registry, maxAge time.Duration, now func() time.Time) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		active := registry.ListActive()
		if len(active) == 0 {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "no active venues"}
		}

		isActive := make(map[string]bool, len(active))
		for _, v := range active {
			isActive[v.ID] = true
		}
		var stale []string
		for _, id := range registry.Stale(now(), maxAge) {
			if isActive[id] {
				stale = append(stale, id)
			}
		}

		status := HealthStatusHealthy
		msg := fmt.Sprintf("%d active venues", len(active))
		if len(stale) > 0 {
			status = HealthStatusDegraded
			msg = fmt.Sprintf("%d of %d active venues have stale metrics", len(stale), len(active))
		}
		return ComponentHealth{
			Status:  status,
			Message: msg,
			Details: map[string]interface{}{"active": len(active), "stale": stale},
		}
	}
}

// AlgorithmHealthCheck is unhealthy when no algorithm is active, since the
// default path then has nothing to fall back to
func AlgorithmHealthCheck(catalog *algorithm.Catalog) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		active := catalog.ListActive()
		if len(active) == 0 {
			return ComponentHealth{Status: HealthStatusUnhealthy, Message: "no active algorithms"}
		}
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("%d active algorithms", len(active)),
			Details: map[string]interface{}{"default_candidate": active[0].ID},
		}
	}
}

// PingHealthCheck wraps a connectivity probe. A failing probe degrades the
// service, routing itself keeps working.
func PingHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: HealthStatusDegraded, Message: err.Error()}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "connected"}
	}
}
