package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestWorkflowLimiter_SlotAccounting(t *testing.T) {
	limiter := NewWorkflowLimiter(2, time.Second)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	if got := limiter.Status(); got != (WorkflowLimiterStatus{Active: 2, Available: 0, MaxConcurrent: 2}) {
		t.Errorf("Status() = %+v", got)
	}
	if limiter.TryAcquire() {
		t.Error("TryAcquire should fail when full")
	}

	limiter.Release()
	if !limiter.TryAcquire() {
		t.Error("TryAcquire should succeed after Release")
	}
	limiter.Release()
	limiter.Release()

	if got := limiter.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}

func TestWorkflowLimiter_RejectsAfterMaxWait(t *testing.T) {
	limiter := NewWorkflowLimiter(1, 80*time.Millisecond)
	ctx := context.Background()

	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	start := time.Now()
	err := limiter.Acquire(ctx)
	if !errors.Is(err, ErrTooManyWorkflows) {
		t.Fatalf("expected ErrTooManyWorkflows, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 70*time.Millisecond {
		t.Errorf("rejected too early: %v", elapsed)
	}
}

func TestWorkflowLimiter_CallerCancellationWins(t *testing.T) {
	limiter := NewWorkflowLimiter(1, 5*time.Second)
	if err := limiter.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer limiter.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- limiter.Acquire(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Acquire did not return after cancellation")
	}
}

func TestWorkflowLimiter_NeverExceedsMax(t *testing.T) {
	const maxConcurrent = 3
	limiter := NewWorkflowLimiter(maxConcurrent, time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	peak := 0

	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer limiter.Release()

			mu.Lock()
			peak = max(peak, limiter.ActiveCount())
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
		}()
	}
	wg.Wait()

	if peak > maxConcurrent {
		t.Errorf("peak concurrency %d exceeds %d", peak, maxConcurrent)
	}
}

func TestWorkflowLimiter_WaitForDrain(t *testing.T) {
	limiter := NewWorkflowLimiter(2, time.Second)
	limiter.Acquire(context.Background())

	done := make(chan error, 1)
	go func() { done <- limiter.WaitForDrain(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitForDrain returned while a workflow was running")
	case <-time.After(60 * time.Millisecond):
	}

	limiter.Release()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForDrain returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForDrain did not return after release")
	}

	ctx, cancel := context.WithCancel(context.Background())
	limiter.Acquire(context.Background())
	defer limiter.Release()
	cancel()
	if err := limiter.WaitForDrain(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWorkflowLimiter_Defaults(t *testing.T) {
	if got := NewWorkflowLimiter(0, 0).MaxConcurrent(); got != DefaultMaxConcurrentWorkflows {
		t.Errorf("MaxConcurrent = %d, want %d", got, DefaultMaxConcurrentWorkflows)
	}
}
