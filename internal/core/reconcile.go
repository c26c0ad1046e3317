package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JonMunkholm/ledgersync/internal/model"
	"github.com/JonMunkholm/ledgersync/internal/store"
	"github.com/JonMunkholm/ledgersync/internal/syncclient"
)

// CycleLock guards a reconciliation cycle across processes sharing a queue.
// ok=false means another holder is running a cycle; the tick is skipped.
type CycleLock interface {
	TryAcquire(ctx context.Context) (release func(), ok bool, err error)
}

// CycleReport summarises one reconciliation cycle.
type CycleReport struct {
	Skipped    bool          `json:"skipped"` // nothing due, or another replica holds the lock
	Due        int           `json:"due"`
	Processed  int           `json:"processed"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Permanent  int           `json:"permanent"`
	Conflicts  int           `json:"conflicts"`
	Held       int           `json:"held"`
	Duration   time.Duration `json:"duration"`
}

// Reconciler is the recurring background pass over the pending-sync queue.
//
// State machine: disabled -> enabled -> disabled. Enable on an enabled
// reconciler is a no-op. Disable stops the timer and waits for an in-flight
// cycle; sends already started are allowed to finish.
type Reconciler struct {
	queue   store.Queue
	client  syncclient.Client
	events  *EventBus
	metrics *Aggregator
	lock    CycleLock

	settings RealTimeSyncSettings

	mu      sync.Mutex
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}

	cycleMu sync.Mutex
}

// NewReconciler builds a disabled reconciler. lock may be nil.
func NewReconciler(settings RealTimeSyncSettings, queue store.Queue, client syncclient.Client, events *EventBus, metrics *Aggregator, lock CycleLock) *Reconciler {
	d := DefaultSettings().RealTimeSync
	if settings.Interval <= 0 {
		settings.Interval = d.Interval
	}
	if settings.BatchSize <= 0 {
		settings.BatchSize = d.BatchSize
	}
	if settings.RetryAttempts <= 0 {
		settings.RetryAttempts = d.RetryAttempts
	}
	if !settings.ConflictResolution.Valid() {
		settings.ConflictResolution = d.ConflictResolution
	}
	if events == nil {
		events = NewEventBus()
	}
	if metrics == nil {
		metrics, _ = NewAggregator(nil)
	}
	return &Reconciler{
		queue:    queue,
		client:   client,
		events:   events,
		metrics:  metrics,
		lock:     lock,
		settings: settings,
	}
}

// Enable starts the timer. The first cycle runs one full interval later.
func (r *Reconciler) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.enabled {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	r.enabled = true

	go r.loop(ctx, r.settings.Interval, r.done)

	slog.Info("real-time sync enabled",
		"interval_ms", r.settings.Interval.Milliseconds(),
		"batch_size", r.settings.BatchSize,
		"retry_attempts", r.settings.RetryAttempts,
		"conflict_resolution", r.settings.ConflictResolution,
	)
	return nil
}

// Disable stops the timer and waits for an in-flight cycle to return.
// Safe to call concurrently and when already disabled.
func (r *Reconciler) Disable() {
	r.mu.Lock()
	if !r.enabled {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.enabled = false
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	cancel()
	<-done
	slog.Info("real-time sync disabled")
}

// Enabled reports whether the timer is running.
func (r *Reconciler) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enabled
}

// Settings returns the effective configuration.
func (r *Reconciler) Settings() RealTimeSyncSettings {
	return r.settings
}

// loop runs a cycle per tick. A tick that arrives while a cycle runs is
// dropped instead of queued.
func (r *Reconciler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if _, err := r.RunCycle(ctx); err != nil && ctx.Err() == nil {
			slog.Error("reconciliation cycle failed", "error", err)
		}

		select {
		case <-ticker.C:
			slog.Debug("reconciliation cycle overran its interval, skipping tick")
		default:
		}
	}
}

// RunCycle performs one reconciliation pass. Cycles never overlap. An empty
// queue returns a skipped report without emitting events.
func (r *Reconciler) RunCycle(ctx context.Context) (CycleReport, error) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	if r.lock != nil {
		release, ok, err := r.lock.TryAcquire(ctx)
		if err != nil {
			r.events.Publish(EventRealTimeSyncError, SyncErrorPayload{Error: err.Error()})
			return CycleReport{}, fmt.Errorf("acquire cycle lock: %w", err)
		}
		if !ok {
			slog.Debug("reconciliation cycle held by another replica")
			return CycleReport{Skipped: true}, nil
		}
		defer release()
	}

	start := time.Now()
	due, err := r.queue.Due(ctx, r.settings.BatchSize)
	if err != nil {
		r.events.Publish(EventRealTimeSyncError, SyncErrorPayload{Error: err.Error()})
		return CycleReport{}, fmt.Errorf("load due vouchers: %w", err)
	}
	if len(due) == 0 {
		return CycleReport{Skipped: true}, nil
	}

	ctx, span := tracer.Start(ctx, "reconciler.cycle")
	defer span.End()
	span.SetAttributes(attribute.Int("sync.due", len(due)))

	report := CycleReport{Due: len(due)}
	r.events.Publish(EventRealTimeSyncStarted, SyncStartedPayload{Due: len(due)})

	sendable, err := r.resolveConflicts(ctx, due, &report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.events.Publish(EventRealTimeSyncError, SyncErrorPayload{Error: err.Error()})
		return report, err
	}

	var errs []error
	for _, v := range sendable {
		if ctx.Err() != nil {
			break
		}
		if err := r.attempt(ctx, v, &report); err != nil {
			errs = append(errs, err)
		}
	}

	report.Duration = time.Since(start)
	r.metrics.RecordCycle(report)
	span.SetAttributes(
		attribute.Int("sync.successful", report.Successful),
		attribute.Int("sync.failed", report.Failed),
	)

	r.events.Publish(EventRealTimeSyncCompleted, SyncCompletedPayload{
		Processed:  report.Processed,
		Successful: report.Successful,
		Failed:     report.Failed,
		Permanent:  report.Permanent,
		Conflicts:  report.Conflicts,
		DurationMS: report.Duration.Milliseconds(),
	})

	slog.Info("reconciliation cycle completed",
		"processed", report.Processed,
		"successful", report.Successful,
		"failed", report.Failed,
		"conflicts", report.Conflicts,
		"duration_ms", report.Duration.Milliseconds(),
	)

	if err := errors.Join(errs...); err != nil {
		r.events.Publish(EventRealTimeSyncError, SyncErrorPayload{Error: err.Error()})
		return report, err
	}
	return report, nil
}

// attempt sends one voucher and records the outcome. The send and the
// status update are detached from ctx so a shutdown never aborts them midway.
func (r *Reconciler) attempt(ctx context.Context, v model.LedgerVoucher, report *CycleReport) error {
	sendCtx := context.WithoutCancel(ctx)

	if v.SyncStatus == model.SyncFailed {
		if err := r.queue.MarkPending(sendCtx, v.ID); err != nil {
			return fmt.Errorf("retry %s: %w", v.ID, err)
		}
	}

	res := r.client.Send(sendCtx, v)
	report.Processed++

	if res.Success {
		report.Successful++
		if err := r.queue.MarkSynced(sendCtx, v.ID, res.ExternalID); err != nil {
			return fmt.Errorf("mark synced %s: %w", v.ID, err)
		}
		return nil
	}

	report.Failed++
	permanent := v.Attempts+1 >= r.settings.RetryAttempts
	if permanent {
		report.Permanent++
		slog.Warn("voucher retries exhausted, manual review required",
			"voucher_id", v.ID,
			"attempts", v.Attempts+1,
			"error", res.Error,
		)
	}
	if err := r.queue.MarkFailed(sendCtx, v.ID, res.Error, permanent); err != nil {
		return fmt.Errorf("mark failed %s: %w", v.ID, err)
	}
	return nil
}

// FailedVouchers lists permanently failed vouchers awaiting manual review.
func (r *Reconciler) FailedVouchers(ctx context.Context) ([]model.LedgerVoucher, error) {
	return r.queue.Failed(ctx)
}

// RetryVoucher gives a permanently failed voucher a fresh set of attempts.
func (r *Reconciler) RetryVoucher(ctx context.Context, id string) error {
	v, err := r.queue.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("retry voucher %s: %w", id, err)
	}
	if v.SyncStatus != model.SyncFailed || !v.Permanent {
		return fmt.Errorf("retry voucher %s: %w", id, store.ErrInvalidTransition)
	}
	return r.queue.Requeue(ctx, id)
}
