package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/JonMunkholm/ledgersync/internal/model"
	"github.com/JonMunkholm/ledgersync/internal/source"
	"github.com/JonMunkholm/ledgersync/internal/store"
	"github.com/JonMunkholm/ledgersync/internal/syncclient"
)

var tracer = otel.Tracer("github.com/JonMunkholm/ledgersync/internal/core")

// LimiterWait is how long a workflow waits for a free slot before failing
// with ErrTooManyWorkflows.
var LimiterWait = 30 * time.Second

// Deps are the collaborators an Engine is built from. Sources, Client and
// Queue are required; the rest fall back to defaults.
type Deps struct {
	Sources    *source.Registry
	Client     syncclient.Client
	Queue      store.Queue
	Lock       CycleLock
	Classifier Classifier
	Mapper     *FieldMapper
	Metrics    prometheus.Registerer
}

// Engine is the automation engine. It owns the event bus, the metrics
// aggregator, the reconciliation loop, workflow state and automation rules.
type Engine struct {
	settings   Settings
	sources    *source.Registry
	client     syncclient.Client
	queue      store.Queue
	classifier Classifier
	mapper     *FieldMapper
	validator  Validator
	events     *EventBus
	metrics    *Aggregator
	reconciler *Reconciler
	limiter    *WorkflowLimiter

	mu          sync.RWMutex
	initialized bool
	active      map[string]*workflowRun
	history     []*workflowRun // oldest first, bounded by Workflows.HistorySize
	watchers    []*source.Watcher

	rulesMu sync.RWMutex
	rules   map[string]*model.AutomationRule
}

// AutomationStats is a read-only view of engine state.
type AutomationStats struct {
	IsInitialized       bool            `json:"isInitialized"`
	ActiveWorkflowCount int             `json:"activeWorkflowCount"`
	RealTimeSyncEnabled bool            `json:"realTimeSyncEnabled"`
	Metrics             MetricsSnapshot `json:"metrics"`
	Config              Settings        `json:"config"`
}

// NewEngine builds an uninitialized engine.
func NewEngine(settings Settings, deps Deps) (*Engine, error) {
	if deps.Sources == nil {
		return nil, errors.New("engine requires a source registry")
	}
	if deps.Client == nil {
		return nil, errors.New("engine requires a sync client")
	}
	if deps.Queue == nil {
		return nil, errors.New("engine requires a pending-sync queue")
	}
	if deps.Classifier == nil {
		deps.Classifier = DefaultClassifier()
	}
	if deps.Mapper == nil {
		deps.Mapper = DefaultFieldMapper()
	}

	metrics, err := NewAggregator(deps.Metrics)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	settings = settings.withDefaults()
	events := NewEventBus()

	return &Engine{
		settings:   settings,
		sources:    deps.Sources,
		client:     deps.Client,
		queue:      deps.Queue,
		classifier: deps.Classifier,
		mapper:     deps.Mapper,
		events:     events,
		metrics:    metrics,
		reconciler: NewReconciler(settings.RealTimeSync, deps.Queue, deps.Client, events, metrics, deps.Lock),
		limiter:    NewWorkflowLimiter(settings.Workflows.MaxConcurrent, LimiterWait),
		active:     make(map[string]*workflowRun),
		rules:      make(map[string]*model.AutomationRule),
	}, nil
}

// Events returns the engine's event bus.
func (e *Engine) Events() *EventBus { return e.events }

// Reconciler returns the reconciliation loop.
func (e *Engine) Reconciler() *Reconciler { return e.reconciler }

// Settings returns the effective settings.
func (e *Engine) Settings() Settings { return e.settings }

// Limiter returns the workflow limiter.
func (e *Engine) Limiter() *WorkflowLimiter { return e.limiter }

// IsInitialized reports whether Initialize has succeeded.
func (e *Engine) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Initialize checks the required subsystems, starts the reconciliation loop
// and the auto-collection watchers. On failure an error event is emitted and
// the engine stays uninitialized. Calling it again after success is a no-op.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.IsInitialized() {
		return nil
	}

	if err := e.checkSubsystems(ctx); err != nil {
		e.events.Publish(EventError, ErrorPayload{Stage: "initialize", Error: err.Error()})
		slog.Error("automation engine initialization failed", "error", err)
		return err
	}

	if e.settings.RealTimeSync.Enabled && e.settings.Workflows.Reconciliation {
		if err := e.reconciler.Enable(); err != nil {
			e.events.Publish(EventError, ErrorPayload{Stage: "initialize", Error: err.Error()})
			return fmt.Errorf("enable reconciliation: %w", err)
		}
	}

	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()

	e.startWatchers()

	slog.Info("automation engine initialized",
		"sources", e.sources.Types(),
		"realtime_sync", e.reconciler.Enabled(),
		"max_concurrent_workflows", e.settings.Workflows.MaxConcurrent,
	)
	return nil
}

func (e *Engine) checkSubsystems(ctx context.Context) error {
	if err := e.queue.Ping(ctx); err != nil {
		return fmt.Errorf("pending-sync queue unavailable: %w", err)
	}
	if p, ok := e.client.(syncclient.Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("destination unavailable: %w", err)
		}
	}
	known := make(map[string]bool)
	for _, t := range e.sources.Types() {
		known[t] = true
	}
	for _, t := range e.settings.AutoCollection.Sources {
		if !known[t] {
			return fmt.Errorf("auto collection: %w: %s", source.ErrUnknownSource, t)
		}
	}
	return nil
}

// startWatchers polls each configured source when auto collection is on.
func (e *Engine) startWatchers() {
	if !e.settings.Workflows.AutoCollection || len(e.settings.AutoCollection.Sources) == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range e.settings.AutoCollection.Sources {
		w := source.Watch(context.Background(), e.sources, t, e.settings.AutoCollection.PollInterval, e.collectNew)
		e.watchers = append(e.watchers, w)
	}
	slog.Info("auto collection started",
		"sources", e.settings.AutoCollection.Sources,
		"poll_interval", e.settings.AutoCollection.PollInterval,
	)
}

// collectNew runs a collection workflow over refs reported by a watcher.
// It does not wait for a workflow slot; a busy engine leaves the refs for
// the next poll. Refs that could not be fetched are handed back to the
// watcher so they are retried.
func (e *Engine) collectNew(ctx context.Context, refs []model.DocumentRef) error {
	if !e.limiter.TryAcquire() {
		return ErrTooManyWorkflows
	}
	defer e.limiter.Release()

	opts, err := e.prepareOptions(Options{AutoSync: true})
	if err != nil {
		return err
	}
	_, unfetched, err := e.collect(ctx, refs, opts)
	if err != nil && ctx.Err() == nil {
		slog.Warn("auto collection workflow failed", "error", err)
	}
	if len(unfetched) > 0 {
		return &source.UnhandledError{Refs: unfetched, Err: errors.New("fetch failed")}
	}
	return nil
}

// Shutdown stops the reconciliation loop (waiting for an in-flight cycle),
// closes watchers and waits for running workflows until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.reconciler.Disable()

	e.mu.Lock()
	watchers := e.watchers
	e.watchers = nil
	e.initialized = false
	e.mu.Unlock()

	for _, w := range watchers {
		_ = w.Close()
	}

	if err := e.limiter.WaitForDrain(ctx); err != nil {
		return fmt.Errorf("wait for workflows: %w", err)
	}
	slog.Info("automation engine stopped")
	return nil
}

// GetAutomationStats reports engine state without side effects.
func (e *Engine) GetAutomationStats() AutomationStats {
	e.mu.RLock()
	initialized := e.initialized
	active := len(e.active)
	e.mu.RUnlock()

	return AutomationStats{
		IsInitialized:       initialized,
		ActiveWorkflowCount: active,
		RealTimeSyncEnabled: e.reconciler.Enabled(),
		Metrics:             e.metrics.Snapshot(),
		Config:              e.settings,
	}
}

// QueueCounts summarises the pending-sync queue.
func (e *Engine) QueueCounts(ctx context.Context) (store.Counts, error) {
	return e.queue.Counts(ctx)
}

// Workflow returns a running or archived workflow.
func (e *Engine) Workflow(id string) (model.Workflow, error) {
	e.mu.RLock()
	run, ok := e.active[id]
	if !ok {
		for _, h := range e.history {
			if h.id == id {
				run, ok = h, true
				break
			}
		}
	}
	e.mu.RUnlock()

	if !ok {
		return model.Workflow{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, id)
	}
	return run.snapshot(), nil
}

// Workflows returns running and archived workflows, newest first.
func (e *Engine) Workflows() []model.Workflow {
	e.mu.RLock()
	runs := make([]*workflowRun, 0, len(e.active)+len(e.history))
	for _, r := range e.active {
		runs = append(runs, r)
	}
	runs = append(runs, e.history...)
	e.mu.RUnlock()

	out := make([]model.Workflow, len(runs))
	for i, r := range runs {
		out[i] = r.snapshot()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartTime.After(out[j].StartTime)
	})
	return out
}

func (e *Engine) track(run *workflowRun) {
	e.mu.Lock()
	e.active[run.id] = run
	e.mu.Unlock()
}

// archive moves a finished run into the bounded history.
func (e *Engine) archive(run *workflowRun) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.active, run.id)
	e.history = append(e.history, run)
	if extra := len(e.history) - e.settings.Workflows.HistorySize; extra > 0 {
		e.history = append([]*workflowRun(nil), e.history[extra:]...)
	}
}

// EnableRealTimeSync starts the reconciliation loop.
func (e *Engine) EnableRealTimeSync() error {
	return e.reconciler.Enable()
}

// DisableRealTimeSync stops the reconciliation loop.
func (e *Engine) DisableRealTimeSync() {
	e.reconciler.Disable()
}

// RunSyncCycle runs one reconciliation cycle now.
func (e *Engine) RunSyncCycle(ctx context.Context) (CycleReport, error) {
	if !e.IsInitialized() {
		return CycleReport{}, ErrNotInitialized
	}
	return e.reconciler.RunCycle(ctx)
}

// FailedVouchers lists permanently failed vouchers.
func (e *Engine) FailedVouchers(ctx context.Context) ([]model.LedgerVoucher, error) {
	return e.reconciler.FailedVouchers(ctx)
}

// RetryVoucher resets a permanently failed voucher.
func (e *Engine) RetryVoucher(ctx context.Context, id string) error {
	return e.reconciler.RetryVoucher(ctx, id)
}

// Conflicts lists detected conflicts.
func (e *Engine) Conflicts(ctx context.Context, includeResolved bool) ([]model.Conflict, error) {
	return e.reconciler.Conflicts(ctx, includeResolved)
}

// AcknowledgeConflict settles a held conflict in favour of versionID.
func (e *Engine) AcknowledgeConflict(ctx context.Context, id, versionID string) (model.Conflict, error) {
	return e.reconciler.AcknowledgeConflict(ctx, id, versionID)
}
