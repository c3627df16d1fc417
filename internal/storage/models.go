package storage

import (
	"time"

	"github.com/mExOms/sor/internal/rules"
)

// RuleRecord is a persisted routing rule
type RuleRecord struct {
	ID        string          `gorm:"primaryKey" json:"id"`
	Name      string          `json:"name"`
	Priority  int             `json:"priority" gorm:"index"`
	Active    bool            `json:"active"`
	Condition rules.Condition `json:"condition" gorm:"serializer:json"`
	Action    rules.Action    `json:"action" gorm:"serializer:json"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName overrides the gorm default
func (RuleRecord) TableName() string { return "routing_rules" }

func recordFromRule(r rules.Rule) RuleRecord {
	c := r.Clone()
	return RuleRecord{
		ID:        c.ID,
		Name:      c.Name,
		Priority:  c.Priority,
		Active:    c.Active,
		Condition: c.Condition,
		Action:    c.Action,
	}
}

func (rec RuleRecord) rule() rules.Rule {
	return rules.Rule{
		ID:        rec.ID,
		Name:      rec.Name,
		Priority:  rec.Priority,
		Active:    rec.Active,
		Condition: rec.Condition,
		Action:    rec.Action,
	}
}

// AlgorithmState is the admin-controlled part of an algorithm: activation and
// priority survive restarts, parameters come from the seed file
type AlgorithmState struct {
	ID        string    `gorm:"primaryKey" json:"id"`
	Active    bool      `json:"active"`
	Priority  int       `json:"priority"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the gorm default
func (AlgorithmState) TableName() string { return "algorithm_states" }
