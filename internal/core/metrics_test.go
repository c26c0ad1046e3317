package core

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

func TestAggregator_Snapshot(t *testing.T) {
	a, err := NewAggregator(nil)
	if err != nil {
		t.Fatal(err)
	}

	a.RecordWorkflow(model.WorkflowDataEntry, model.WorkflowCompleted, model.Results{
		Processed: 4, Successful: 3, Failed: 1, Duration: 2 * time.Second,
	})
	a.RecordWorkflow(model.WorkflowCollection, model.WorkflowError, model.Results{
		Processed: 1, Failed: 1, Duration: time.Second,
	})
	a.RecordCycle(CycleReport{Processed: 3, Successful: 2, Failed: 1, Conflicts: 1})

	s := a.Snapshot()
	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"DocumentsProcessed", s.DocumentsProcessed, 5},
		{"DocumentsSuccessful", s.DocumentsSuccessful, 3},
		{"DocumentsFailed", s.DocumentsFailed, 2},
		{"WorkflowsCompleted", s.WorkflowsCompleted, 1},
		{"WorkflowsFailed", s.WorkflowsFailed, 1},
		{"SyncCycles", s.SyncCycles, 1},
		{"VouchersSynced", s.VouchersSynced, 2},
		{"VouchersFailed", s.VouchersFailed, 1},
		{"ConflictsDetected", s.ConflictsDetected, 1},
		{"ErrorsReduced", s.ErrorsReduced, 3},
		{"TimeSavedSeconds", s.TimeSavedSeconds, 3*180 - 2},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	if s.SuccessRate != 0.6 {
		t.Errorf("SuccessRate = %v, want 0.6", s.SuccessRate)
	}
	if s.AverageProcessingTimeMS != 600 {
		t.Errorf("AverageProcessingTimeMS = %v, want 600", s.AverageProcessingTimeMS)
	}
	if s.LastWorkflowAt == nil || s.LastCycleAt == nil {
		t.Error("timestamps not set")
	}
}

func TestAggregator_Prometheus(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := NewAggregator(reg)
	if err != nil {
		t.Fatal(err)
	}

	a.RecordWorkflow(model.WorkflowDataEntry, model.WorkflowCompleted, model.Results{Processed: 2, Successful: 2})
	a.RecordCycle(CycleReport{Successful: 1})
	a.RecordConflict(model.ResolveManual)

	if got := testutil.ToFloat64(a.prom.documents.WithLabelValues("successful")); got != 2 {
		t.Errorf("documents{successful} = %v", got)
	}
	if got := testutil.ToFloat64(a.prom.cycles); got != 1 {
		t.Errorf("cycles = %v", got)
	}
	if got := testutil.ToFloat64(a.prom.conflicts.WithLabelValues("manual")); got != 1 {
		t.Errorf("conflicts{manual} = %v", got)
	}

	if _, err := NewAggregator(reg); err == nil {
		t.Error("registering twice on one registry should fail")
	}
}
