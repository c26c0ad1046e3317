package core

import (
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventWorkflowStarted       EventType = "workflowStarted"
	EventWorkflowProgress      EventType = "workflowProgress"
	EventWorkflowCompleted     EventType = "workflowCompleted"
	EventWorkflowError         EventType = "workflowError"
	EventRealTimeSyncStarted   EventType = "realTimeSyncStarted"
	EventRealTimeSyncCompleted EventType = "realTimeSyncCompleted"
	EventRealTimeSyncError     EventType = "realTimeSyncError"
	EventConflictDetected      EventType = "conflictDetected"
	EventError                 EventType = "error"
)

// Event is delivered to subscribers. Payload holds one of the *Payload types below.
type Event struct {
	Type    EventType `json:"type"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// WorkflowStartedPayload accompanies EventWorkflowStarted.
type WorkflowStartedPayload struct {
	WorkflowID string             `json:"workflowId"`
	Type       model.WorkflowType `json:"type"`
	Total      int                `json:"total"`
}

// ProgressPayload accompanies EventWorkflowProgress.
type ProgressPayload struct {
	WorkflowID      string  `json:"workflowId"`
	Processed       int     `json:"processed"`
	Total           int     `json:"total"`
	Accuracy        float64 `json:"accuracy"`
	ProgressPercent int     `json:"progressPercent"`
}

// WorkflowCompletedPayload accompanies EventWorkflowCompleted.
type WorkflowCompletedPayload struct {
	WorkflowID string        `json:"workflowId"`
	Results    model.Results `json:"results"`
}

// WorkflowErrorPayload accompanies EventWorkflowError.
type WorkflowErrorPayload struct {
	WorkflowID string `json:"workflowId"`
	Error      string `json:"error"`
}

// SyncStartedPayload accompanies EventRealTimeSyncStarted.
type SyncStartedPayload struct {
	Due int `json:"due"`
}

// SyncCompletedPayload accompanies EventRealTimeSyncCompleted.
type SyncCompletedPayload struct {
	Processed  int   `json:"processed"`
	Successful int   `json:"successful"`
	Failed     int   `json:"failed"`
	Permanent  int   `json:"permanent"`
	Conflicts  int   `json:"conflicts"`
	DurationMS int64 `json:"durationMs"`
}

// SyncErrorPayload accompanies EventRealTimeSyncError.
type SyncErrorPayload struct {
	Error string `json:"error"`
}

// ConflictPayload accompanies EventConflictDetected.
type ConflictPayload struct {
	Conflict   model.Conflict         `json:"conflict"`
	Strategy   model.ConflictStrategy `json:"strategy"`
	Confidence float64                `json:"confidence"`
}

// ErrorPayload accompanies EventError.
type ErrorPayload struct {
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// EventBus is an observer registry. Subscribers are called synchronously, in
// subscription order, from the goroutine that publishes; they must not block.
type EventBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
	order  []int
	now    func() time.Time
}

// NewEventBus returns a bus with no subscribers.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[int]func(Event)), now: time.Now}
}

// Subscribe registers fn and returns a function that removes it.
func (b *EventBus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.order = append(b.order, id)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			for i, oid := range b.order {
				if oid == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers an event to every subscriber. A panicking subscriber is
// logged and skipped.
func (b *EventBus) Publish(typ EventType, payload any) {
	b.mu.RLock()
	fns := make([]func(Event), 0, len(b.order))
	for _, id := range b.order {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	ev := Event{Type: typ, Time: b.now().UTC(), Payload: payload}
	for _, fn := range fns {
		deliver(fn, ev)
	}
}

// SubscriberCount returns the number of registered subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func deliver(fn func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}
