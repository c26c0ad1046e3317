package core

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// ManualEntryTime estimates how long keying one document by hand takes.
// Each successfully automated document adds this to TimeSaved.
var ManualEntryTime = 3 * time.Minute

// MetricsSnapshot is a point-in-time copy of the aggregator.
type MetricsSnapshot struct {
	DocumentsProcessed  int64 `json:"documentsProcessed"`
	DocumentsSuccessful int64 `json:"documentsSuccessful"`
	DocumentsFailed     int64 `json:"documentsFailed"`
	TimeSavedSeconds    int64 `json:"timeSaved"`
	ErrorsReduced       int64 `json:"errorsReduced"`

	WorkflowsCompleted int64 `json:"workflowsCompleted"`
	WorkflowsFailed    int64 `json:"workflowsFailed"`
	SyncCycles         int64 `json:"syncCycles"`
	VouchersSynced     int64 `json:"vouchersSynced"`
	VouchersFailed     int64 `json:"vouchersFailed"`
	ConflictsDetected  int64 `json:"conflictsDetected"`

	SuccessRate             float64    `json:"successRate"`
	AverageProcessingTimeMS float64    `json:"averageProcessingTime"`
	LastWorkflowAt          *time.Time `json:"lastWorkflowAt,omitempty"`
	LastCycleAt             *time.Time `json:"lastCycleAt,omitempty"`
}

// Aggregator accumulates monotonic counters. It is written only at the end
// of a workflow and at the end of a reconciliation cycle.
type Aggregator struct {
	mu   sync.RWMutex
	snap MetricsSnapshot

	processingTime time.Duration
	timeSaved      time.Duration

	prom *promMetrics
}

type promMetrics struct {
	documents        *prometheus.CounterVec
	workflows        *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec
	cycles           prometheus.Counter
	vouchers         *prometheus.CounterVec
	conflicts        *prometheus.CounterVec
}

// NewAggregator creates an aggregator. When reg is non-nil the counters are
// also exported as Prometheus collectors.
func NewAggregator(reg prometheus.Registerer) (*Aggregator, error) {
	a := &Aggregator{}
	if reg == nil {
		return a, nil
	}

	p := &promMetrics{
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "documents_processed_total",
			Help:      "Documents processed by workflows, by outcome.",
		}, []string{"outcome"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "workflows_total",
			Help:      "Workflows finished, by type and status.",
		}, []string{"type", "status"}),
		workflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledgersync",
			Name:      "workflow_duration_seconds",
			Help:      "Wall time of finished workflows.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "sync_cycles_total",
			Help:      "Reconciliation cycles that had due vouchers.",
		}),
		vouchers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "vouchers_sent_total",
			Help:      "Voucher send attempts by the reconciliation loop, by result.",
		}, []string{"result"}),
		conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgersync",
			Name:      "conflicts_total",
			Help:      "Conflicts detected, by resolution strategy.",
		}, []string{"strategy"}),
	}

	for _, c := range []prometheus.Collector{p.documents, p.workflows, p.workflowDuration, p.cycles, p.vouchers, p.conflicts} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	a.prom = p
	return a, nil
}

// RecordWorkflow adds a finished workflow's results.
func (a *Aggregator) RecordWorkflow(typ model.WorkflowType, status model.WorkflowStatus, r model.Results) {
	now := time.Now().UTC()
	saved := time.Duration(r.Successful)*ManualEntryTime - r.Duration
	if saved < 0 {
		saved = 0
	}

	a.mu.Lock()
	a.snap.DocumentsProcessed += int64(r.Processed)
	a.snap.DocumentsSuccessful += int64(r.Successful)
	a.snap.DocumentsFailed += int64(r.Failed)
	a.snap.ErrorsReduced += int64(r.Failed)
	if status == model.WorkflowCompleted {
		a.snap.WorkflowsCompleted++
	} else {
		a.snap.WorkflowsFailed++
	}
	a.processingTime += r.Duration
	a.timeSaved += saved
	a.snap.LastWorkflowAt = &now
	a.mu.Unlock()

	if a.prom != nil {
		a.prom.documents.WithLabelValues("successful").Add(float64(r.Successful))
		a.prom.documents.WithLabelValues("failed").Add(float64(r.Failed))
		a.prom.workflows.WithLabelValues(string(typ), string(status)).Inc()
		a.prom.workflowDuration.WithLabelValues(string(typ)).Observe(r.Duration.Seconds())
	}
}

// RecordCycle adds a finished reconciliation cycle.
func (a *Aggregator) RecordCycle(r CycleReport) {
	now := time.Now().UTC()

	a.mu.Lock()
	a.snap.SyncCycles++
	a.snap.VouchersSynced += int64(r.Successful)
	a.snap.VouchersFailed += int64(r.Failed)
	a.snap.ConflictsDetected += int64(r.Conflicts)
	a.snap.ErrorsReduced += int64(r.Conflicts)
	a.snap.LastCycleAt = &now
	a.mu.Unlock()

	if a.prom != nil {
		a.prom.cycles.Inc()
		a.prom.vouchers.WithLabelValues("synced").Add(float64(r.Successful))
		a.prom.vouchers.WithLabelValues("failed").Add(float64(r.Failed))
	}
}

// RecordConflict counts a conflict under its strategy label.
func (a *Aggregator) RecordConflict(strategy model.ConflictStrategy) {
	if a.prom != nil {
		a.prom.conflicts.WithLabelValues(string(strategy)).Inc()
	}
}

// Snapshot returns the counters with derived stats filled in.
func (a *Aggregator) Snapshot() MetricsSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.snap
	s.TimeSavedSeconds = int64(a.timeSaved / time.Second)
	if s.DocumentsProcessed > 0 {
		s.SuccessRate = float64(s.DocumentsSuccessful) / float64(s.DocumentsProcessed)
		s.AverageProcessingTimeMS = float64(a.processingTime.Milliseconds()) / float64(s.DocumentsProcessed)
	}
	return s
}
