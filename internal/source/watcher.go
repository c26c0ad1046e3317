package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// Watcher polls a source type and reports refs it has not seen before.
// It stops when Close is called or its parent context is cancelled.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// UnhandledError is returned by a Watch callback that handled only part of a
// batch. Only Refs are reported again on the next poll.
type UnhandledError struct {
	Refs []model.DocumentRef
	Err  error
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("%d documents not handled: %v", len(e.Refs), e.Err)
}

func (e *UnhandledError) Unwrap() error { return e.Err }

// Watch starts polling registry for sourceType every interval. onNew is
// called from the watcher goroutine with each batch of unseen refs. When it
// returns an error the batch is forgotten and reported again on the next poll;
// an *UnhandledError narrows that to the refs it names. Refs that drop out of
// the listing are forgotten.
func Watch(ctx context.Context, registry *Registry, sourceType string, interval time.Duration, onNew func(context.Context, []model.DocumentRef) error) *Watcher {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watcher{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)

		seen := make(map[string]bool)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			refs, err := registry.ListAvailable(ctx, sourceType)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("source poll failed", "source", sourceType, "error", err)
				}
				continue
			}

			listed := make(map[string]bool, len(refs))
			var fresh []model.DocumentRef
			for _, ref := range refs {
				id := refID(ref)
				listed[id] = true
				if !seen[id] {
					seen[id] = true
					fresh = append(fresh, ref)
				}
			}
			for id := range seen {
				if !listed[id] {
					delete(seen, id)
				}
			}
			if len(fresh) == 0 {
				continue
			}
			slog.Debug("new documents detected", "source", sourceType, "count", len(fresh))
			if err := onNew(ctx, fresh); err != nil {
				retry := fresh
				var partial *UnhandledError
				if errors.As(err, &partial) {
					retry = partial.Refs
				}
				slog.Warn("new documents not handled, retrying next poll", "source", sourceType, "count", len(retry), "error", err)
				for _, ref := range retry {
					delete(seen, refID(ref))
				}
			}
		}
	}()

	return w
}

func refID(ref model.DocumentRef) string {
	return ref.Key + "@" + ref.ModifiedAt.String()
}

// Close stops the watcher and waits for an in-progress callback to return.
func (w *Watcher) Close() error {
	w.once.Do(w.cancel)
	<-w.done
	return nil
}
