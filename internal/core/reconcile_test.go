package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/model"
	"github.com/JonMunkholm/ledgersync/internal/store"
	"github.com/JonMunkholm/ledgersync/internal/syncclient"
)

func TestRunCycle_RetryCeiling(t *testing.T) {
	rec := &sendRecorder{fail: true}
	r, q, _ := newTestReconciler(t, model.ResolveSmart, rec)
	ctx := context.Background()

	enqueue(t, q, testVoucher("v", "INV-1", "Acme", 10, 0))

	var permanent int
	for i := 0; i < 5; i++ {
		report, err := r.RunCycle(ctx)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		permanent += report.Permanent
	}

	if len(rec.sent) != 3 {
		t.Errorf("send attempts = %d, want exactly 3", len(rec.sent))
	}
	if permanent != 1 {
		t.Errorf("permanent failures reported = %d, want 1", permanent)
	}

	failed, err := r.FailedVouchers(ctx)
	if err != nil {
		t.Fatalf("FailedVouchers: %v", err)
	}
	if len(failed) != 1 || failed[0].Attempts != 3 || !failed[0].Permanent {
		t.Fatalf("failed = %+v", failed)
	}
	if failed[0].LastError != "destination rejected voucher" {
		t.Errorf("LastError = %q", failed[0].LastError)
	}
}

func TestRetryVoucher(t *testing.T) {
	rec := &sendRecorder{fail: true}
	r, q, _ := newTestReconciler(t, model.ResolveSmart, rec)
	ctx := context.Background()

	enqueue(t, q, testVoucher("v", "INV-1", "Acme", 10, 0))
	if _, err := r.RunCycle(ctx); err != nil {
		t.Fatal(err)
	}
	if err := r.RetryVoucher(ctx, "v"); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("retry before exhaustion: err = %v", err)
	}
	if err := r.RetryVoucher(ctx, "unknown"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("retry unknown: err = %v", err)
	}

	r.RunCycle(ctx)
	r.RunCycle(ctx)

	if err := r.RetryVoucher(ctx, "v"); err != nil {
		t.Fatalf("RetryVoucher: %v", err)
	}
	v, _ := q.Get(ctx, "v")
	if v.SyncStatus != model.SyncPending || v.Attempts != 0 || v.Permanent {
		t.Errorf("voucher after retry = %+v", v)
	}

	rec.fail = false
	report, err := r.RunCycle(ctx)
	if err != nil || report.Successful != 1 {
		t.Fatalf("report = %+v, err = %v", report, err)
	}
	v, _ = q.Get(ctx, "v")
	if v.SyncStatus != model.SyncSynced || v.ExternalID != "ext-v" {
		t.Errorf("voucher = %+v", v)
	}
}

func TestRunCycle_EmptyQueueIsSilent(t *testing.T) {
	r, _, bus := newTestReconciler(t, model.ResolveSmart, &sendRecorder{})

	events := 0
	bus.Subscribe(func(Event) { events++ })

	report, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Skipped {
		t.Error("expected skipped report")
	}
	if events != 0 {
		t.Errorf("events = %d, want 0", events)
	}
}

func TestRunCycle_EmitsStartedAndCompleted(t *testing.T) {
	rec := &sendRecorder{}
	r, q, bus := newTestReconciler(t, model.ResolveSmart, rec)

	var types []EventType
	var completed SyncCompletedPayload
	bus.Subscribe(func(e Event) {
		types = append(types, e.Type)
		if p, ok := e.Payload.(SyncCompletedPayload); ok {
			completed = p
		}
	})

	enqueue(t, q, testVoucher("a", "A", "Acme", 1, 0), testVoucher("b", "B", "Acme", 2, 0))
	if _, err := r.RunCycle(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(types) != 2 || types[0] != EventRealTimeSyncStarted || types[1] != EventRealTimeSyncCompleted {
		t.Errorf("events = %v", types)
	}
	if completed.Processed != 2 || completed.Successful != 2 || completed.Failed != 0 {
		t.Errorf("completed = %+v", completed)
	}
}

type stubLock struct {
	ok  bool
	err error
}

func (l stubLock) TryAcquire(context.Context) (func(), bool, error) {
	return func() {}, l.ok, l.err
}

func TestRunCycle_LockHeldElsewhere(t *testing.T) {
	rec := &sendRecorder{}
	q := store.NewMemory()
	r := NewReconciler(RealTimeSyncSettings{}, q, rec.client(), nil, nil, stubLock{ok: false})
	enqueue(t, q, testVoucher("a", "A", "Acme", 1, 0))

	report, err := r.RunCycle(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !report.Skipped || len(rec.sent) != 0 {
		t.Errorf("report = %+v, sent = %d", report, len(rec.sent))
	}

	r = NewReconciler(RealTimeSyncSettings{}, q, rec.client(), nil, nil, stubLock{err: errors.New("redis down")})
	if _, err := r.RunCycle(context.Background()); err == nil {
		t.Error("expected lock error")
	}
}

// countingReconciler keeps one voucher due forever and counts cycles.
func countingReconciler(t *testing.T, interval time.Duration) (*Reconciler, *atomic.Int32) {
	t.Helper()
	q := store.NewMemory()
	bus := NewEventBus()
	client := syncclient.ClientFunc(func(context.Context, model.LedgerVoucher) syncclient.SendResult {
		return syncclient.Failed("offline")
	})
	r := NewReconciler(RealTimeSyncSettings{
		Interval:      interval,
		BatchSize:     10,
		RetryAttempts: 1000,
	}, q, client, bus, nil, nil)
	enqueue(t, q, testVoucher("v", "INV-1", "Acme", 1, 0))

	var cycles atomic.Int32
	bus.Subscribe(func(e Event) {
		if e.Type == EventRealTimeSyncStarted {
			cycles.Add(1)
		}
	})
	return r, &cycles
}

func TestReconciler_EnableTwiceIsNoop(t *testing.T) {
	r, cycles := countingReconciler(t, 100*time.Millisecond)

	if err := r.Enable(); err != nil {
		t.Fatal(err)
	}
	if err := r.Enable(); err != nil {
		t.Fatalf("second Enable: %v", err)
	}
	if !r.Enabled() {
		t.Fatal("not enabled")
	}

	time.Sleep(350 * time.Millisecond)
	r.Disable()

	n := cycles.Load()
	if n < 2 || n > 4 {
		t.Errorf("cycles = %d in 350ms at 100ms, want 2-4 (one timer)", n)
	}

	time.Sleep(150 * time.Millisecond)
	if after := cycles.Load(); after != n {
		t.Errorf("cycles continued after Disable: %d -> %d", n, after)
	}
	r.Disable()
}

func TestReconciler_ReEnableWaitsOneInterval(t *testing.T) {
	interval := 80 * time.Millisecond
	r, cycles := countingReconciler(t, interval)

	if err := r.Enable(); err != nil {
		t.Fatal(err)
	}
	r.Disable()

	enabledAt := time.Now()
	if err := r.Enable(); err != nil {
		t.Fatal(err)
	}
	defer r.Disable()

	deadline := time.Now().Add(time.Second)
	for cycles.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if cycles.Load() == 0 {
		t.Fatal("no cycle after re-enable")
	}
	if elapsed := time.Since(enabledAt); elapsed < interval {
		t.Errorf("first cycle after %v, want at least %v", elapsed, interval)
	}
}

func TestReconciler_DisableWaitsForInFlightSend(t *testing.T) {
	q := store.NewMemory()
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	client := syncclient.ClientFunc(func(ctx context.Context, v model.LedgerVoucher) syncclient.SendResult {
		once.Do(func() { close(started) })
		<-release
		if ctx.Err() != nil {
			return syncclient.Failed("aborted")
		}
		return syncclient.SendResult{Success: true, ExternalID: "ext"}
	})
	r := NewReconciler(RealTimeSyncSettings{Interval: 10 * time.Millisecond}, q, client, nil, nil, nil)
	enqueue(t, q, testVoucher("v", "INV-1", "Acme", 1, 0))

	if err := r.Enable(); err != nil {
		t.Fatal(err)
	}
	<-started

	disabled := make(chan struct{})
	go func() {
		r.Disable()
		close(disabled)
	}()

	select {
	case <-disabled:
		t.Fatal("Disable returned while a send was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-disabled:
	case <-time.After(time.Second):
		t.Fatal("Disable did not return")
	}

	v, _ := q.Get(context.Background(), "v")
	if v.SyncStatus != model.SyncSynced {
		t.Errorf("status = %s, want synced", v.SyncStatus)
	}
}
