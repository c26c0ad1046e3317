package model

import "time"

// Rule actions understood by the rule scheduler.
const (
	ActionCollect = "collect"
	ActionSync    = "sync"
)

// AutomationRule is a user-defined trigger that runs pipeline actions.
type AutomationRule struct {
	ID         string            `json:"id"`
	Name       string            `json:"name" validate:"required,max=120"`
	Triggers   []string          `json:"triggers" validate:"required,min=1,dive,required"`
	Actions    []string          `json:"actions" validate:"required,min=1,dive,oneof=collect sync"`
	Conditions map[string]string `json:"conditions,omitempty"`
	Schedule   time.Duration     `json:"schedule,omitempty" validate:"omitempty,min=1000000000"`
	Enabled    bool              `json:"enabled"`
	LastRun    *time.Time        `json:"lastRun,omitempty"`
	RunCount   int               `json:"runCount"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Due reports whether a scheduled rule should run at now.
func (r AutomationRule) Due(now time.Time) bool {
	if !r.Enabled || r.Schedule <= 0 {
		return false
	}
	if r.LastRun == nil {
		return !now.Before(r.CreatedAt.Add(r.Schedule))
	}
	return !now.Before(r.LastRun.Add(r.Schedule))
}
