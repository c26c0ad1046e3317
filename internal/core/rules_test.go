package core

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

func TestCreateRule_Validation(t *testing.T) {
	e, _ := newTestEngine(t, testSettings(), okClient())

	tests := []struct {
		name string
		rule model.AutomationRule
	}{
		{name: "missing name", rule: model.AutomationRule{Triggers: []string{"inbox"}, Actions: []string{"collect"}}},
		{name: "no actions", rule: model.AutomationRule{Name: "r", Triggers: []string{"inbox"}}},
		{name: "unknown action", rule: model.AutomationRule{Name: "r", Triggers: []string{"inbox"}, Actions: []string{"delete"}}},
		{name: "schedule too short", rule: model.AutomationRule{Name: "r", Triggers: []string{"inbox"}, Actions: []string{"sync"}, Schedule: time.Millisecond}},
		{name: "bad condition", rule: model.AutomationRule{Name: "r", Triggers: []string{"inbox"}, Actions: []string{"collect"}, Conditions: map[string]string{ConditionAutoSync: "maybe"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.CreateRule(tt.rule)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), "invalid rule") {
				t.Errorf("err = %v", err)
			}
			if MapError(err).Code != "RULE002" {
				t.Errorf("code = %s, want RULE002", MapError(err).Code)
			}
		})
	}
	if n := len(e.Rules()); n != 0 {
		t.Errorf("rules stored after failures: %d", n)
	}
}

func TestRuleLifecycle(t *testing.T) {
	e, _ := newTestEngine(t, testSettings(), okClient())

	created, err := e.CreateRule(model.AutomationRule{
		Name:     "nightly sync",
		Triggers: []string{"schedule"},
		Actions:  []string{model.ActionSync},
		Schedule: time.Hour,
		RunCount: 7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" || created.CreatedAt.IsZero() || created.RunCount != 0 || created.Enabled {
		t.Errorf("created = %+v", created)
	}

	enabled, err := e.EnableRule(created.ID)
	if err != nil || !enabled.Enabled {
		t.Fatalf("EnableRule = %+v, %v", enabled, err)
	}
	disabled, err := e.DisableRule(created.ID)
	if err != nil || disabled.Enabled {
		t.Fatalf("DisableRule = %+v, %v", disabled, err)
	}

	got, err := e.Rule(created.ID)
	if err != nil || got.Name != "nightly sync" {
		t.Errorf("Rule = %+v, %v", got, err)
	}
	if _, err := e.Rule("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("missing rule: err = %v", err)
	}
	if _, err := e.EnableRule("missing"); !errors.Is(err, ErrRuleNotFound) {
		t.Errorf("enable missing rule: err = %v", err)
	}
}

func TestRunDueRules(t *testing.T) {
	inbox := newFakeSource("inbox")
	inbox.add("a", goodDoc("a", "Rent", "10"))
	e, q := newTestEngine(t, testSettings(), okClient(), inbox)

	rule, err := e.CreateRule(model.AutomationRule{
		Name:       "collect inbox",
		Triggers:   []string{"inbox"},
		Actions:    []string{model.ActionCollect, model.ActionSync},
		Conditions: map[string]string{ConditionAutoSync: "false"},
		Schedule:   time.Second,
		Enabled:    true,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if n := e.runDueRules(ctx, time.Now()); n != 0 {
		t.Fatalf("rule ran before its schedule elapsed: %d", n)
	}

	if n := e.runDueRules(ctx, time.Now().Add(2*time.Second)); n != 1 {
		t.Fatalf("ran = %d, want 1", n)
	}

	got, _ := e.Rule(rule.ID)
	if got.RunCount != 1 || got.LastRun == nil {
		t.Errorf("rule after run = %+v", got)
	}
	if !inbox.ackedKeys()["a"] {
		t.Error("collect action did not consume the inbox")
	}

	// autoSync=false queued the voucher; the sync action then sent it.
	counts, _ := q.Counts(ctx)
	if counts.Synced != 1 || counts.Pending != 0 {
		t.Errorf("queue counts = %+v", counts)
	}

	if n := e.runDueRules(ctx, time.Now()); n != 0 {
		t.Errorf("rule ran again before its schedule: %d", n)
	}
}

func TestRunDueRules_SkipsDisabled(t *testing.T) {
	e, _ := newTestEngine(t, testSettings(), okClient())

	_, err := e.CreateRule(model.AutomationRule{
		Name:     "off",
		Triggers: []string{"schedule"},
		Actions:  []string{model.ActionSync},
		Schedule: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	if n := e.runDueRules(context.Background(), time.Now().Add(time.Hour)); n != 0 {
		t.Errorf("disabled rule ran: %d", n)
	}
}
