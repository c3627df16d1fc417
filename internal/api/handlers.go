package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mExOms/sor/internal/router"
	"github.com/mExOms/sor/pkg/types"
)

func (s *Server) routeOrder(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, err)
		return
	}
	order, err := req.order(s.Now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}

	decision, err := s.Service.RouteOrder(r.Context(), order)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) routeBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRouteRequest
	if err := s.decode(r, &req); err != nil {
		s.writeDomainError(w, err)
		return
	}

	now := s.Now()
	resp := BatchRouteResponse{Results: make([]BatchItem, len(req.Orders))}

	// malformed entries fail individually; the rest are routed together
	orders := make([]types.OrderContext, 0, len(req.Orders))
	slots := make([]int, 0, len(req.Orders))
	for i, item := range req.Orders {
		resp.Results[i].OrderID = item.OrderID
		order, err := item.order(now)
		if err != nil {
			resp.Results[i].Error = err.Error()
			resp.Results[i].Kind = router.ErrorKind(err)
			continue
		}
		orders = append(orders, order)
		slots = append(slots, i)
	}

	for j, res := range s.Service.RouteBatch(r.Context(), orders) {
		item := &resp.Results[slots[j]]
		if res.Err != nil {
			item.Error = res.Err.Error()
			item.Kind = router.ErrorKind(res.Err)
			continue
		}
		item.Decision = res.Decision
	}

	for _, item := range resp.Results {
		if item.Decision != nil {
			resp.Routed++
		} else {
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getDecision(w http.ResponseWriter, r *http.Request) {
	if s.Decisions == nil {
		writeError(w, http.StatusNotImplemented, "decision cache disabled")
		return
	}
	id := mux.Vars(r)["id"]
	d, ok := s.Decisions.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "decision "+id+" not found or expired")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Rules

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	list := s.Rules.List()
	out := make([]RulePayload, len(list))
	for i, rule := range list {
		out[i] = rulePayload(rule)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": out,
		"count": len(out),
	})
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.Rules.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rulePayload(rule))
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var p RulePayload
	if err := s.decode(r, &p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	rule, err := p.rule()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.Rules.Add(rule); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.Store != nil {
		if err := s.Store.SaveRule(rule); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, rulePayload(rule))
}

func (s *Server) updateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p RulePayload
	if err := s.decode(r, &p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if p.ID != id {
		s.writeDomainError(w, pathMismatch(id, p.ID))
		return
	}
	rule, err := p.rule()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.Rules.Update(rule); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.Store != nil {
		if err := s.Store.SaveRule(rule); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, rulePayload(rule))
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.Rules.Remove(id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.Store != nil {
		if err := s.Store.DeleteRule(id); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setRuleActive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p ActivePayload
	if err := s.decode(r, &p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.Rules.SetActive(id, *p.Active); err != nil {
		s.writeDomainError(w, err)
		return
	}
	rule, err := s.Rules.Get(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.Store != nil {
		if err := s.Store.SaveRule(rule); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, rulePayload(rule))
}

// Algorithms

func (s *Server) listAlgorithms(w http.ResponseWriter, r *http.Request) {
	list := s.Algorithms.List()
	out := make([]AlgorithmView, len(list))
	for i, a := range list {
		out[i] = algorithmView(a)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"algorithms": out,
		"count":      len(out),
	})
}

func (s *Server) getAlgorithm(w http.ResponseWriter, r *http.Request) {
	a, err := s.Algorithms.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, algorithmView(a))
}

func (s *Server) createAlgorithm(w http.ResponseWriter, r *http.Request) {
	var p AlgorithmPayload
	if err := s.decode(r, &p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	a, err := p.algorithm()
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.Algorithms.Register(a); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeAlgorithm(w, http.StatusCreated, a.ID)
}

func (s *Server) setAlgorithmActive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p ActivePayload
	if err := s.decode(r, &p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.Algorithms.SetActive(id, *p.Active); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeAlgorithm(w, http.StatusOK, id)
}

func (s *Server) setAlgorithmPriority(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p PriorityPayload
	if err := s.decode(r, &p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.Algorithms.SetPriority(id, *p.Priority); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeAlgorithm(w, http.StatusOK, id)
}

// writeAlgorithm persists the admin state of id and replies with it
func (s *Server) writeAlgorithm(w http.ResponseWriter, status int, id string) {
	a, err := s.Algorithms.Get(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.Store != nil {
		if err := s.Store.SaveAlgorithmState(a); err != nil {
			s.writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, status, algorithmView(a))
}

// Venues

func (s *Server) listVenues(w http.ResponseWriter, r *http.Request) {
	list := s.Venues.List()
	if r.URL.Query().Get("active") == "true" {
		list = s.Venues.ListActive()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"venues": list,
		"count":  len(list),
	})
}

func (s *Server) getVenue(w http.ResponseWriter, r *http.Request) {
	v, err := s.Venues.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) createVenue(w http.ResponseWriter, r *http.Request) {
	var p VenuePayload
	if err := s.decode(r, &p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	v, err := p.venue(s.Now())
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.Venues.Register(v); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Server) updateVenueMetrics(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p MetricsPayload
	if err := s.decode(r, &p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	ts := s.Now()
	if p.Timestamp != nil {
		ts = *p.Timestamp
	}
	if err := s.Venues.UpsertMetrics(id, p.metrics(), ts); err != nil {
		s.writeDomainError(w, err)
		return
	}
	v, err := s.Venues.Get(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) setVenueActive(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var p ActivePayload
	if err := s.decode(r, &p); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if err := s.Venues.SetActive(id, *p.Active); err != nil {
		s.writeDomainError(w, err)
		return
	}
	v, err := s.Venues.Get(id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Stats

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	if s.Tracker == nil {
		writeError(w, http.StatusNotImplemented, "performance tracking disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.Tracker.GetMetrics())
}

func (s *Server) getHourlyStats(w http.ResponseWriter, r *http.Request) {
	if s.Tracker == nil {
		writeError(w, http.StatusNotImplemented, "performance tracking disabled")
		return
	}
	at := s.Now()
	if q := r.URL.Query().Get("at"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "at must be RFC3339")
			return
		}
		at = t
	}
	stats := s.Tracker.GetHourlyStats(at)
	if stats == nil {
		writeError(w, http.StatusNotFound, "no stats for hour of "+at.Format(time.RFC3339))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
