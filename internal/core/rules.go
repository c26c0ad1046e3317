package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// Rule condition keys. They override the options of a collect action.
const (
	ConditionValidationLevel    = "validationLevel"
	ConditionAutoSync           = "autoSync"
	ConditionConflictResolution = "conflictResolution"
)

// CreateRule validates and stores a new automation rule.
func (e *Engine) CreateRule(rule model.AutomationRule) (model.AutomationRule, error) {
	if err := validateStruct(rule); err != nil {
		return model.AutomationRule{}, fmt.Errorf("invalid rule: %w", err)
	}
	if _, err := ruleOptions(rule); err != nil {
		return model.AutomationRule{}, fmt.Errorf("invalid rule: %w", err)
	}

	rule.ID = uuid.NewString()
	rule.CreatedAt = time.Now().UTC()
	rule.LastRun = nil
	rule.RunCount = 0

	e.rulesMu.Lock()
	e.rules[rule.ID] = &rule
	e.rulesMu.Unlock()

	slog.Info("automation rule created", "rule_id", rule.ID, "name", rule.Name, "actions", rule.Actions)
	return rule, nil
}

// Rule returns a rule by id.
func (e *Engine) Rule(id string) (model.AutomationRule, error) {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()

	r, ok := e.rules[id]
	if !ok {
		return model.AutomationRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return *r, nil
}

// Rules returns all rules, oldest first.
func (e *Engine) Rules() []model.AutomationRule {
	e.rulesMu.RLock()
	out := make([]model.AutomationRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, *r)
	}
	e.rulesMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EnableRule turns a rule on.
func (e *Engine) EnableRule(id string) (model.AutomationRule, error) {
	return e.setRuleEnabled(id, true)
}

// DisableRule turns a rule off.
func (e *Engine) DisableRule(id string) (model.AutomationRule, error) {
	return e.setRuleEnabled(id, false)
}

func (e *Engine) setRuleEnabled(id string, enabled bool) (model.AutomationRule, error) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	r, ok := e.rules[id]
	if !ok {
		return model.AutomationRule{}, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	r.Enabled = enabled
	return *r, nil
}

// RunRule executes a rule's actions now, whatever its schedule. The run is
// recorded even when an action fails.
func (e *Engine) RunRule(ctx context.Context, id string) error {
	rule, err := e.Rule(id)
	if err != nil {
		return err
	}
	if !e.IsInitialized() {
		return ErrNotInitialized
	}

	opts, err := ruleOptions(rule)
	if err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}

	var errs []error
	for _, action := range rule.Actions {
		switch action {
		case model.ActionCollect:
			_, err := e.RunCollectionWorkflow(ctx, SourceSelector{Types: e.ruleSources(rule), Options: opts})
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s collect: %w", rule.Name, err))
			}
		case model.ActionSync:
			if _, err := e.RunSyncCycle(ctx); err != nil {
				errs = append(errs, fmt.Errorf("rule %s sync: %w", rule.Name, err))
			}
		}
	}

	e.recordRun(id, time.Now().UTC())
	return errors.Join(errs...)
}

// ruleSources keeps the triggers that name registered source types.
func (e *Engine) ruleSources(rule model.AutomationRule) []string {
	known := make(map[string]bool)
	for _, t := range e.sources.Types() {
		known[t] = true
	}
	var types []string
	for _, t := range rule.Triggers {
		if known[t] {
			types = append(types, t)
		}
	}
	return types
}

func (e *Engine) recordRun(id string, at time.Time) {
	e.rulesMu.Lock()
	defer e.rulesMu.Unlock()

	if r, ok := e.rules[id]; ok {
		r.LastRun = &at
		r.RunCount++
	}
}

// ruleOptions builds collect options from a rule's conditions. Unset
// fields are filled from settings when the workflow starts.
func ruleOptions(rule model.AutomationRule) (Options, error) {
	opts := Options{AutoSync: true}
	if v, ok := rule.Conditions[ConditionValidationLevel]; ok {
		opts.ValidationLevel = ValidationLevel(v)
		if !opts.ValidationLevel.Valid() {
			return Options{}, fmt.Errorf("%s %q", ConditionValidationLevel, v)
		}
	}
	if v, ok := rule.Conditions[ConditionConflictResolution]; ok {
		opts.ConflictResolution = model.ConflictStrategy(v)
		if !opts.ConflictResolution.Valid() {
			return Options{}, fmt.Errorf("%s %q", ConditionConflictResolution, v)
		}
	}
	if v, ok := rule.Conditions[ConditionAutoSync]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("%s %q", ConditionAutoSync, v)
		}
		opts.AutoSync = b
	}
	return opts, nil
}
