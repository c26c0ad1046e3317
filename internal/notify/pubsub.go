// Package notify forwards engine lifecycle events to Google Cloud Pub/Sub so
// downstream services can react to finished workflows and sync cycles.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JonMunkholm/ledgersync/internal/core"
)

// PublishTimeout bounds a single publish round trip.
var PublishTimeout = 30 * time.Second

// Config describes the target topic.
type Config struct {
	ProjectID       string
	Topic           string
	CredentialsJSON string
	CreateTopic     bool
	// Events restricts forwarding to these types. Empty forwards everything
	// except progress events.
	Events []string
	Buffer int
}

// Message is the JSON body of a forwarded event.
type Message struct {
	Type    core.EventType `json:"type"`
	Time    time.Time      `json:"time"`
	Payload any            `json:"payload"`
}

type sendFunc func(ctx context.Context, data []byte, attrs map[string]string) error

// Forwarder subscribes to an event bus and publishes each accepted event.
// Publishing happens on a background goroutine; when the buffer is full
// events are dropped and logged.
type Forwarder struct {
	send   sendFunc
	accept map[core.EventType]bool
	ch     chan Message
	done   chan struct{}
	unsub  func()
	client *pubsub.Client

	mu     sync.RWMutex
	closed bool
}

// NewPubSub connects to Pub/Sub and starts forwarding events from bus.
func NewPubSub(ctx context.Context, cfg Config, bus *core.EventBus) (*Forwarder, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("pubsub project id is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("pubsub topic is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}

	topic, err := ensureTopic(ctx, client, cfg.Topic, cfg.CreateTopic)
	if err != nil {
		_ = client.Close()
		return nil, err
	}

	send := func(ctx context.Context, data []byte, attrs map[string]string) error {
		res := topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
		_, err := res.Get(ctx)
		return err
	}

	f := newForwarder(send, cfg, bus)
	f.client = client
	slog.Info("pubsub event forwarding enabled", "project_id", cfg.ProjectID, "topic", cfg.Topic)
	return f, nil
}

func ensureTopic(ctx context.Context, client *pubsub.Client, name string, create bool) (*pubsub.Topic, error) {
	t := client.Topic(name)
	if !create {
		return t, nil
	}
	ok, err := t.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %q: %w", name, err)
	}
	if ok {
		return t, nil
	}
	t, err = client.CreateTopic(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create topic %q: %w", name, err)
	}
	return t, nil
}

func newForwarder(send sendFunc, cfg Config, bus *core.EventBus) *Forwarder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	f := &Forwarder{
		send:   send,
		accept: acceptSet(cfg.Events),
		ch:     make(chan Message, cfg.Buffer),
		done:   make(chan struct{}),
	}
	go f.loop()
	f.unsub = bus.Subscribe(f.handle)
	return f
}

func acceptSet(names []string) map[core.EventType]bool {
	set := make(map[core.EventType]bool)
	if len(names) == 0 {
		for _, t := range []core.EventType{
			core.EventWorkflowStarted,
			core.EventWorkflowCompleted,
			core.EventWorkflowError,
			core.EventRealTimeSyncStarted,
			core.EventRealTimeSyncCompleted,
			core.EventRealTimeSyncError,
			core.EventConflictDetected,
			core.EventError,
		} {
			set[t] = true
		}
		return set
	}
	for _, n := range names {
		set[core.EventType(n)] = true
	}
	return set
}

func (f *Forwarder) handle(ev core.Event) {
	if !f.accept[ev.Type] {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- Message{Type: ev.Type, Time: ev.Time, Payload: ev.Payload}:
	default:
		slog.Warn("pubsub forward buffer full, dropping event", "event", ev.Type)
	}
}

func (f *Forwarder) loop() {
	defer close(f.done)
	for msg := range f.ch {
		data, err := json.Marshal(msg)
		if err != nil {
			slog.Error("encode event for pubsub", "event", msg.Type, "error", err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		err = f.send(ctx, data, map[string]string{"event": string(msg.Type)})
		cancel()
		if err != nil {
			slog.Error("publish event to pubsub", "event", msg.Type, "error", err)
		}
	}
}

// Close unsubscribes, flushes buffered events and closes the client.
func (f *Forwarder) Close() error {
	f.unsub()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	close(f.ch)
	f.mu.Unlock()

	<-f.done
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}
