package core

// limiter.go implements concurrency control for workflow runs.
//
// The limiter uses a semaphore to restrict parallel workflows to a
// configurable maximum. When all slots are occupied, new runs wait up to
// maxWait before failing with ErrTooManyWorkflows.
//
// WaitForDrain blocks until every running workflow completes and is used
// during shutdown.

import (
	"context"
	"sync"
	"time"
)

// DefaultMaxConcurrentWorkflows is the default limit for parallel workflows.
const DefaultMaxConcurrentWorkflows = 5

// DefaultMaxWaitTime is how long to wait for a slot before rejecting.
const DefaultMaxWaitTime = 30 * time.Second

// WorkflowLimiter caps concurrent workflow runs using a semaphore.
type WorkflowLimiter struct {
	semaphore chan struct{}
	maxWait   time.Duration

	mu     sync.RWMutex
	active int
}

// NewWorkflowLimiter creates a limiter that allows at most maxConcurrent
// simultaneous workflows.
func NewWorkflowLimiter(maxConcurrent int, maxWait time.Duration) *WorkflowLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentWorkflows
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}

	return &WorkflowLimiter{
		semaphore: make(chan struct{}, maxConcurrent),
		maxWait:   maxWait,
	}
}

// Acquire waits for a slot. The caller MUST call Release when done.
func (l *WorkflowLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return nil

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyWorkflows
	}
}

// TryAcquire takes a slot without blocking.
func (l *WorkflowLimiter) TryAcquire() bool {
	select {
	case l.semaphore <- struct{}{}:
		l.mu.Lock()
		l.active++
		l.mu.Unlock()
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *WorkflowLimiter) Release() {
	l.mu.Lock()
	l.active--
	l.mu.Unlock()

	<-l.semaphore
}

// ActiveCount returns the number of running workflows.
func (l *WorkflowLimiter) ActiveCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// MaxConcurrent returns the slot count.
func (l *WorkflowLimiter) MaxConcurrent() int {
	return cap(l.semaphore)
}

// Available returns the number of free slots.
func (l *WorkflowLimiter) Available() int {
	return cap(l.semaphore) - len(l.semaphore)
}

// WaitForDrain blocks until all running workflows complete or ctx is done.
func (l *WorkflowLimiter) WaitForDrain(ctx context.Context) error {
	if l.ActiveCount() == 0 {
		return nil
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.ActiveCount() == 0 {
				return nil
			}
		}
	}
}

// WorkflowLimiterStatus is a snapshot of the limiter.
type WorkflowLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"maxConcurrent"`
}

// Status returns the current limiter state.
func (l *WorkflowLimiter) Status() WorkflowLimiterStatus {
	l.mu.RLock()
	active := l.active
	l.mu.RUnlock()

	return WorkflowLimiterStatus{
		Active:        active,
		Available:     cap(l.semaphore) - len(l.semaphore),
		MaxConcurrent: cap(l.semaphore),
	}
}
