package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// Memory is an in-process Queue. Contents are lost on restart.
type Memory struct {
	mu        sync.RWMutex
	vouchers  map[string]*model.LedgerVoucher
	order     []string
	conflicts map[string]*model.Conflict
	now       func() time.Time
}

// NewMemory returns an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{
		vouchers:  make(map[string]*model.LedgerVoucher),
		conflicts: make(map[string]*model.Conflict),
		now:       time.Now,
	}
}

func (m *Memory) Enqueue(_ context.Context, v model.LedgerVoucher) error {
	if v.ID == "" {
		return fmt.Errorf("enqueue: voucher id is required")
	}
	if v.SyncStatus != model.SyncPending && v.SyncStatus != model.SyncFailed {
		return fmt.Errorf("enqueue %s: %w", v.ID, ErrInvalidTransition)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.vouchers[v.ID]; exists {
		return fmt.Errorf("enqueue: voucher %s already queued", v.ID)
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = m.now()
	}
	if v.ModifiedAt.IsZero() {
		v.ModifiedAt = v.CreatedAt
	}
	m.vouchers[v.ID] = &v
	m.order = append(m.order, v.ID)
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (model.LedgerVoucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vouchers[id]
	if !ok {
		return model.LedgerVoucher{}, ErrNotFound
	}
	return *v, nil
}

func (m *Memory) Due(_ context.Context, limit int) ([]model.LedgerVoucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.LedgerVoucher
	for _, id := range m.order {
		v := m.vouchers[id]
		if v == nil || !isDue(*v) {
			continue
		}
		out = append(out, *v)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) MarkSynced(_ context.Context, id, externalID string) error {
	return m.update(id, func(v *model.LedgerVoucher) error {
		if !v.SyncStatus.CanTransition(model.SyncSynced) {
			return ErrInvalidTransition
		}
		v.SyncStatus = model.SyncSynced
		v.ExternalID = externalID
		v.LastError = ""
		return nil
	})
}

func (m *Memory) MarkFailed(_ context.Context, id, reason string, permanent bool) error {
	return m.update(id, func(v *model.LedgerVoucher) error {
		if !v.SyncStatus.CanTransition(model.SyncFailed) {
			return ErrInvalidTransition
		}
		v.SyncStatus = model.SyncFailed
		v.Attempts++
		v.LastError = reason
		v.Permanent = permanent
		return nil
	})
}

func (m *Memory) MarkPending(_ context.Context, id string) error {
	return m.update(id, func(v *model.LedgerVoucher) error {
		if !v.SyncStatus.CanTransition(model.SyncPending) || v.Permanent {
			return ErrInvalidTransition
		}
		v.SyncStatus = model.SyncPending
		return nil
	})
}

func (m *Memory) Requeue(_ context.Context, id string) error {
	return m.update(id, func(v *model.LedgerVoucher) error {
		if !v.SyncStatus.CanTransition(model.SyncPending) {
			return ErrInvalidTransition
		}
		v.SyncStatus = model.SyncPending
		v.Attempts = 0
		v.Permanent = false
		v.LastError = ""
		return nil
	})
}

func (m *Memory) Replace(_ context.Context, nv model.LedgerVoucher) error {
	return m.update(nv.ID, func(v *model.LedgerVoucher) error {
		if v.SyncStatus == model.SyncSynced {
			return ErrInvalidTransition
		}
		v.VoucherType = nv.VoucherType
		v.Date = nv.Date
		v.Amount = nv.Amount
		v.LedgerName = nv.LedgerName
		v.Narration = nv.Narration
		v.Reference = nv.Reference
		v.Confidence = nv.Confidence
		return nil
	})
}

func (m *Memory) Discard(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.vouchers[id]; !ok {
		return ErrNotFound
	}
	delete(m.vouchers, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *Memory) Hold(_ context.Context, conflictID string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if _, ok := m.vouchers[id]; !ok {
			return fmt.Errorf("hold %s: %w", id, ErrNotFound)
		}
	}
	now := m.now()
	for _, id := range ids {
		m.vouchers[id].ConflictID = conflictID
		m.vouchers[id].ModifiedAt = now
	}
	return nil
}

func (m *Memory) Release(_ context.Context, id string) error {
	return m.update(id, func(v *model.LedgerVoucher) error {
		v.ConflictID = ""
		return nil
	})
}

func (m *Memory) Failed(_ context.Context) ([]model.LedgerVoucher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.LedgerVoucher
	for _, id := range m.order {
		if v := m.vouchers[id]; v != nil && v.SyncStatus == model.SyncFailed && v.Permanent {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (m *Memory) SaveConflict(_ context.Context, c model.Conflict) error {
	if c.ID == "" {
		return fmt.Errorf("save conflict: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts[c.ID] = &c
	return nil
}

func (m *Memory) Conflict(_ context.Context, id string) (model.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conflicts[id]
	if !ok {
		return model.Conflict{}, ErrNotFound
	}
	return *c, nil
}

func (m *Memory) Conflicts(_ context.Context, includeResolved bool) ([]model.Conflict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Conflict, 0, len(m.conflicts))
	for _, c := range m.conflicts {
		if !includeResolved && c.Resolved() {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out, nil
}

func (m *Memory) Counts(_ context.Context) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var c Counts
	for _, v := range m.vouchers {
		switch {
		case v.ConflictID != "":
			c.Held++
		case v.SyncStatus == model.SyncPending:
			c.Pending++
		case v.SyncStatus == model.SyncFailed && v.Permanent:
			c.Permanent++
		case v.SyncStatus == model.SyncFailed:
			c.Failed++
		case v.SyncStatus == model.SyncSynced:
			c.Synced++
		}
	}
	for _, cf := range m.conflicts {
		if !cf.Resolved() {
			c.Conflicts++
		}
	}
	return c, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// update applies fn to a stored voucher under the write lock.
func (m *Memory) update(id string, fn func(*model.LedgerVoucher) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vouchers[id]
	if !ok {
		return ErrNotFound
	}
	if err := fn(v); err != nil {
		return fmt.Errorf("voucher %s: %w", id, err)
	}
	v.ModifiedAt = m.now()
	return nil
}
