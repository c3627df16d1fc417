// Package api exposes the routing service over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/monitor"
	"github.com/mExOms/sor/internal/router"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/internal/storage"
	"github.com/mExOms/sor/internal/venue"
	"github.com/mExOms/sor/pkg/cache"
	"github.com/mExOms/sor/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// ClientIDHeader identifies the caller for rate limiting. The remote host is
// used when it is absent.
const ClientIDHeader = "X-Client-ID"

// Deps are the components served by the API. Store, Decisions, Tracker,
// Health, Gatherer and Limiter are optional.
type Deps struct {
	Service    *router.RoutingService
	Venues     *venue.Registry
	Algorithms *algorithm.Catalog
	Rules      *rules.Set
	Store      *storage.Store
	Decisions  *router.CacheSink
	Tracker    *router.PerformanceTracker
	Health     *monitor.HealthChecker
	Gatherer   prometheus.Gatherer
	Limiter    *cache.RateLimiter
	Logger     *logrus.Entry
	Now        func() time.Time
}

// Server serves the routing API
type Server struct {
	Deps
	validate *validator.Validate
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewServer creates an API server
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.WithField("component", "api")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Server{
		Deps:     deps,
		validate: validator.New(),
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	if s.Health != nil {
		r.HandleFunc("/health", s.Health.HTTPHandler()).Methods(http.MethodGet)
	}
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.logRequests)
	if s.Limiter != nil {
		api.Use(s.rateLimit)
	}

	// Routing
	api.HandleFunc("/route", s.routeOrder).Methods(http.MethodPost)
	api.HandleFunc("/route/batch", s.routeBatch).Methods(http.MethodPost)
	api.HandleFunc("/decisions/{id}", s.getDecision).Methods(http.MethodGet)

	// Rules
	api.HandleFunc("/rules", s.listRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.createRule).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id}", s.getRule).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id}", s.updateRule).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}", s.deleteRule).Methods(http.MethodDelete)
	api.HandleFunc("/rules/{id}/active", s.setRuleActive).Methods(http.MethodPut)

	// Algorithms
	api.HandleFunc("/algorithms", s.listAlgorithms).Methods(http.MethodGet)
	api.HandleFunc("/algorithms", s.createAlgorithm).Methods(http.MethodPost)
	api.HandleFunc("/algorithms/{id}", s.getAlgorithm).Methods(http.MethodGet)
	api.HandleFunc("/algorithms/{id}/active", s.setAlgorithmActive).Methods(http.MethodPut)
	api.HandleFunc("/algorithms/{id}/priority", s.setAlgorithmPriority).Methods(http.MethodPut)

	// Venues
	api.HandleFunc("/venues", s.listVenues).Methods(http.MethodGet)
	api.HandleFunc("/venues", s.createVenue).Methods(http.MethodPost)
	api.HandleFunc("/venues/{id}", s.getVenue).Methods(http.MethodGet)
	api.HandleFunc("/venues/{id}/metrics", s.updateVenueMetrics).Methods(http.MethodPut)
	api.HandleFunc("/venues/{id}/active", s.setVenueActive).Methods(http.MethodPut)

	// Stats
	api.HandleFunc("/stats", s.getStats).Methods(http.MethodGet)
	api.HandleFunc("/stats/hourly", s.getHourlyStats).Methods(http.MethodGet)

	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.Logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start),
		}).Debug("Request served")
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !s.Limiter.Allow(key) {
			wait := s.Limiter.RetryAfter(key)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if id := r.Header.Get(ClientIDHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decode reads a JSON body into dst and runs struct validation
func (s *Server) decode(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return types.NewArgumentError("body", err.Error())
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return types.NewArgumentError(verrs[0].Field(), "failed "+verrs[0].Tag()+" check")
		}
		return types.NewArgumentError("body", err.Error())
	}
	return nil
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidOrderContext), errors.Is(err, types.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrAlreadyExists), errors.Is(err, types.ErrStaleUpdate):
		return http.StatusConflict
	case errors.Is(err, types.ErrNoEligibleVenues):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.Logger.WithError(err).Error("Request failed")
	}
	writeError(w, status, err.Error())
}
