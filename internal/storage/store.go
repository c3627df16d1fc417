// Package storage persists admin state (routing rules, algorithm activation
// and priority) in SQLite.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/mExOms/sor/internal/algorithm"
	"github.com/mExOms/sor/internal/rules"
	"github.com/mExOms/sor/pkg/types"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryPath opens a private in-memory database
const MemoryPath = ":memory:"

// Store is the SQLite backed admin state store
type Store struct {
	db     *gorm.DB
	logger *logrus.Entry
}

// Open connects to the database at path, creating parent directories and
// migrating the schema
func Open(path string, log *logrus.Entry) (*Store, error) {
	if log == nil {
		log = logrus.WithField("component", "storage")
	}

	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if path == MemoryPath {
		// every pooled connection would otherwise see its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&RuleRecord{}, &AlgorithmState{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	log.WithField("path", path).Info("Storage opened")
	return &Store{db: db, logger: log}, nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveRule creates or updates a rule
func (s *Store) SaveRule(r rules.Rule) error {
	rec := recordFromRule(r)
	if err := s.db.Save(&rec).Error; err != nil {
		return fmt.Errorf("failed to save rule %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRule removes a rule. Deleting an absent rule is not an error.
func (s *Store) DeleteRule(id string) error {
	return s.db.Where("id = ?", id).Delete(&RuleRecord{}).Error
}

// GetRule loads one rule
func (s *Store) GetRule(id string) (rules.Rule, error) {
	var rec RuleRecord
	err := s.db.First(&rec, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return rules.Rule{}, fmt.Errorf("rule %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return rules.Rule{}, err
	}
	return rec.rule(), nil
}

// LoadRules returns every persisted rule ordered by priority, then id
func (s *Store) LoadRules() ([]rules.Rule, error) {
	var recs []RuleRecord
	if err := s.db.Order("priority asc, id asc").Find(&recs).Error; err != nil {
		return nil, err
	}

	result := make([]rules.Rule, 0, len(recs))
	for _, rec := range recs {
		result = append(result, rec.rule())
	}
	return result, nil
}

// ReplaceRules overwrites the persisted rule set in one transaction
func (s *Store) ReplaceRules(rs []rules.Rule) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&RuleRecord{}).Error; err != nil {
			return err
		}
		for _, r := range rs {
			rec := recordFromRule(r)
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("failed to save rule %s: %w", r.ID, err)
			}
		}
		return nil
	})
}

// SaveAlgorithmState records the admin state of an algorithm
func (s *Store) SaveAlgorithmState(a algorithm.Algorithm) error {
	state := AlgorithmState{ID: a.ID, Active: a.Active, Priority: a.Priority}
	if err := s.db.Save(&state).Error; err != nil {
		return fmt.Errorf("failed to save algorithm %s: %w", a.ID, err)
	}
	return nil
}

// LoadAlgorithmStates returns the persisted admin state keyed by algorithm id
func (s *Store) LoadAlgorithmStates() (map[string]AlgorithmState, error) {
	var states []AlgorithmState
	if err := s.db.Find(&states).Error; err != nil {
		return nil, err
	}

	result := make(map[string]AlgorithmState, len(states))
	for _, st := range states {
		result[st.ID] = st
	}
	return result, nil
}

// Restore applies persisted state over the seeded registries. Persisted rules
// replace the seed rules when any exist; algorithm states apply to algorithms
// that are still configured.
func (s *Store) Restore(set *rules.Set, catalog *algorithm.Catalog) error {
	rs, err := s.LoadRules()
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if len(rs) > 0 {
		if err := set.Replace(rs); err != nil {
			return fmt.Errorf("failed to restore rules: %w", err)
		}
	}

	states, err := s.LoadAlgorithmStates()
	if err != nil {
		return fmt.Errorf("failed to load algorithm states: %w", err)
	}
	for id, st := range states {
		if err := catalog.SetActive(id, st.Active); err != nil {
			if errors.Is(err, types.ErrNotFound) {
				s.logger.WithField("algorithm", id).Warn("Persisted state for unknown algorithm ignored")
				continue
			}
			return err
		}
		if err := catalog.SetPriority(id, st.Priority); err != nil {
			return err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"rules":      len(rs),
		"algorithms": len(states),
	}).Info("Admin state restored")
	return nil
}
