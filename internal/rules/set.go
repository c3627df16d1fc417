package rules

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
)

// Set stores routing rules. Writers serialise on a mutex and publish a fresh
// immutable slice; readers load the current slice without locking.
type Set struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[[]Rule]
	logger   *logrus.Entry
}

// NewSet creates an empty rule set
func NewSet(logger *logrus.Entry) *Set {
	if logger == nil {
		logger = logrus.WithField("component", "rule-set")
	}
	s := &Set{logger: logger}
	empty := []Rule{}
	s.snapshot.Store(&empty)
	return s
}

// Snapshot returns the current rules ordered by priority. The slice must not
// be modified.
func (s *Set) Snapshot() []Rule {
	return *s.snapshot.Load()
}

// List returns a copy of every rule ordered by priority
func (s *Set) List() []Rule {
	current := s.Snapshot()
	out := make([]Rule, len(current))
	for i, r := range current {
		out[i] = r.Clone()
	}
	return out
}

// Get returns a copy of one rule
func (s *Set) Get(id string) (Rule, error) {
	for _, r := range s.Snapshot() {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return Rule{}, fmt.Errorf("rule %s: %w", id, types.ErrNotFound)
}

// Add inserts a new rule
func (s *Set) Add(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Snapshot()
	for _, existing := range current {
		if existing.ID == r.ID {
			return fmt.Errorf("rule %s: %w", r.ID, types.ErrAlreadyExists)
		}
	}

	next := make([]Rule, 0, len(current)+1)
	next = append(next, current...)
	next = append(next, r.Clone())
	s.publish(next)

	s.logger.WithFields(logrus.Fields{"rule": r.ID, "priority": r.Priority, "algorithm": r.Action.AlgorithmID}).Info("Rule added")
	return nil
}

// Update replaces an existing rule with the same id
func (s *Set) Update(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.modify(r.ID, func(*Rule) Rule { return r.Clone() })
}

// SetActive toggles a rule
func (s *Set) SetActive(id string, active bool) error {
	return s.modify(id, func(old *Rule) Rule {
		next := old.Clone()
		next.Active = active
		return next
	})
}

// Remove deletes a rule
func (s *Set) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Snapshot()
	next := make([]Rule, 0, len(current))
	found := false
	for _, r := range current {
		if r.ID == id {
			found = true
			continue
		}
		next = append(next, r)
	}
	if !found {
		return fmt.Errorf("rule %s: %w", id, types.ErrNotFound)
	}
	s.publish(next)

	s.logger.WithField("rule", id).Info("Rule removed")
	return nil
}

// Replace swaps the whole rule set, used when restoring from storage
func (s *Set) Replace(rules []Rule) error {
	seen := make(map[string]bool, len(rules))
	next := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return fmt.Errorf("rule %s: %w", r.ID, types.ErrAlreadyExists)
		}
		seen[r.ID] = true
		next = append(next, r.Clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(next)
	return nil
}

func (s *Set) modify(id string, fn func(*Rule) Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Snapshot()
	next := make([]Rule, len(current))
	copy(next, current)

	for i := range next {
		if next[i].ID == id {
			updated := fn(&next[i])
			next[i] = updated
			s.publish(next)
			s.logger.WithFields(logrus.Fields{"rule": id, "active": updated.Active, "priority": updated.Priority}).Info("Rule updated")
			return nil
		}
	}
	return fmt.Errorf("rule %s: %w", id, types.ErrNotFound)
}

// publish must be called with mu held
func (s *Set) publish(next []Rule) {
	SortByPriority(next)
	s.snapshot.Store(&next)
}
