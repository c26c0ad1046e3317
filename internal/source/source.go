// Package source pulls raw documents from folders, object storage and other
// inboxes. The engine depends only on the Source interface; every adapter
// is treated the same way.
package source

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// ErrUnknownSource is returned when no adapter is registered for a source type.
var ErrUnknownSource = errors.New("unknown source type")

// Source lists and fetches documents of one source type.
type Source interface {
	Type() string
	ListAvailable(ctx context.Context) ([]model.DocumentRef, error)
	Fetch(ctx context.Context, ref model.DocumentRef) (model.Document, error)
}

// Acknowledger is implemented by sources that can mark documents as consumed
// so later listings skip them.
type Acknowledger interface {
	Ack(ctx context.Context, refs []model.DocumentRef) error
}

// Registry dispatches by source type. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
}

// NewRegistry builds a registry from the given sources.
func NewRegistry(sources ...Source) *Registry {
	r := &Registry{sources: make(map[string]Source)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the adapter for s.Type().
func (r *Registry) Register(s Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[s.Type()] = s
}

// Types returns the registered source types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.sources))
	for t := range r.sources {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (r *Registry) get(sourceType string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sources[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, sourceType)
	}
	return s, nil
}

// ListAvailable lists documents available from sourceType.
func (r *Registry) ListAvailable(ctx context.Context, sourceType string) ([]model.DocumentRef, error) {
	s, err := r.get(sourceType)
	if err != nil {
		return nil, err
	}
	refs, err := s.ListAvailable(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", sourceType, err)
	}
	return refs, nil
}

// Fetch retrieves the document ref points at.
func (r *Registry) Fetch(ctx context.Context, ref model.DocumentRef) (model.Document, error) {
	s, err := r.get(ref.SourceType)
	if err != nil {
		return model.Document{}, err
	}
	doc, err := s.Fetch(ctx, ref)
	if err != nil {
		return model.Document{}, fmt.Errorf("fetch %s %s: %w", ref.SourceType, ref.Key, err)
	}
	return doc, nil
}

// Ack forwards consumed refs to sources that support acknowledgement.
// Refs are grouped per source type.
func (r *Registry) Ack(ctx context.Context, refs []model.DocumentRef) error {
	byType := make(map[string][]model.DocumentRef)
	for _, ref := range refs {
		byType[ref.SourceType] = append(byType[ref.SourceType], ref)
	}

	var errs []error
	for typ, group := range byType {
		s, err := r.get(typ)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ack, ok := s.(Acknowledger); ok {
			if err := ack.Ack(ctx, group); err != nil {
				errs = append(errs, fmt.Errorf("ack %s: %w", typ, err))
			}
		}
	}
	return errors.Join(errs...)
}

// recordKey joins an object path and a record index into a ref key.
func recordKey(path string, index int) string {
	return path + "#" + strconv.Itoa(index)
}

// splitKey reverses recordKey.
func splitKey(key string) (string, int, error) {
	i := strings.LastIndex(key, "#")
	if i < 0 {
		return key, 0, nil
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("invalid record key %q", key)
	}
	return key[:i], n, nil
}

// documentID derives a stable id so refetching the same record yields the same document.
func documentID(sourceType, key string, modified time.Time) string {
	name := sourceType + ":" + key + ":" + modified.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}
