package core

import (
	"testing"
)

func TestEventBus_DeliversInOrder(t *testing.T) {
	bus := NewEventBus()

	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "a:"+string(e.Type)) })
	bus.Subscribe(func(e Event) { got = append(got, "b:"+string(e.Type)) })

	bus.Publish(EventWorkflowStarted, WorkflowStartedPayload{WorkflowID: "w1"})

	want := []string{"a:workflowStarted", "b:workflowStarted"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus()

	calls := 0
	unsub := bus.Subscribe(func(Event) { calls++ })
	bus.Publish(EventError, ErrorPayload{Stage: "test"})
	unsub()
	unsub()
	bus.Publish(EventError, ErrorPayload{Stage: "test"})

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if n := bus.SubscriberCount(); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestEventBus_PanickingSubscriberIsSkipped(t *testing.T) {
	bus := NewEventBus()

	delivered := false
	bus.Subscribe(func(Event) { panic("bad subscriber") })
	bus.Subscribe(func(e Event) {
		p, ok := e.Payload.(SyncStartedPayload)
		delivered = ok && p.Due == 3
	})

	bus.Publish(EventRealTimeSyncStarted, SyncStartedPayload{Due: 3})

	if !delivered {
		t.Error("second subscriber did not receive the event")
	}
}
