package core

// scheduler.go runs automation rules on their schedules.
//
// The scheduler wakes every interval and runs each enabled rule whose
// Schedule has elapsed since its last run (or since creation). Rules run
// one after another on the scheduler goroutine. A failing rule is logged
// and still counts as run, so it is retried on its next schedule rather
// than on every tick.

import (
	"context"
	"log/slog"
	"time"
)

// DefaultRuleCheckInterval is how often the scheduler looks for due rules.
const DefaultRuleCheckInterval = 10 * time.Second

// StartRuleScheduler blocks, running due rules every interval until ctx is
// cancelled.
func (e *Engine) StartRuleScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRuleCheckInterval
	}
	slog.Info("rule scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("rule scheduler stopped")
			return
		case now := <-ticker.C:
			e.runDueRules(ctx, now)
		}
	}
}

// runDueRules runs every rule due at now and returns how many ran.
func (e *Engine) runDueRules(ctx context.Context, now time.Time) int {
	if !e.IsInitialized() {
		return 0
	}

	ran := 0
	for _, rule := range e.Rules() {
		if !rule.Due(now) {
			continue
		}
		if ctx.Err() != nil {
			return ran
		}

		start := time.Now()
		err := e.RunRule(ctx, rule.ID)
		ran++
		if err != nil {
			slog.Error("automation rule failed", "rule_id", rule.ID, "name", rule.Name, "error", err)
			continue
		}
		slog.Info("automation rule ran",
			"rule_id", rule.ID,
			"name", rule.Name,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return ran
}
