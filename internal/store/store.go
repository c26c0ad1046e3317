// Package store holds the durable queue of vouchers awaiting synchronisation
// and the conflicts raised between them.
//
// Two implementations are provided: Memory for tests and single-process
// deployments, and Postgres for durable storage across restarts.
package store

import (
	"context"
	"errors"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// ErrNotFound is returned when a voucher or conflict id is unknown.
var ErrNotFound = errors.New("record not found")

// ErrInvalidTransition is returned when a status change would break the
// pending -> synced / pending -> failed -> pending lifecycle.
var ErrInvalidTransition = errors.New("invalid sync status transition")

// Queue is the pending-sync queue shared by workflows and the reconciliation loop.
// Implementations must be safe for concurrent use.
type Queue interface {
	// Enqueue stores a voucher. Status must be pending or failed.
	Enqueue(ctx context.Context, v model.LedgerVoucher) error
	// Get returns a single voucher by id.
	Get(ctx context.Context, id string) (model.LedgerVoucher, error)
	// Due returns up to limit vouchers eligible for a sync attempt: pending, or
	// failed and not permanent, and not held by a conflict. Oldest first.
	Due(ctx context.Context, limit int) ([]model.LedgerVoucher, error)

	// MarkSynced moves a pending voucher to synced.
	MarkSynced(ctx context.Context, id, externalID string) error
	// MarkFailed moves a pending voucher to failed and counts the attempt.
	// permanent marks the voucher as exhausted; it is never due again.
	MarkFailed(ctx context.Context, id, reason string, permanent bool) error
	// MarkPending moves a failed voucher back to pending for another attempt.
	MarkPending(ctx context.Context, id string) error
	// Requeue resets a permanently failed voucher (attempts cleared) for manual retry.
	Requeue(ctx context.Context, id string) error

	// Replace overwrites the ledger content of a queued voucher (used by merges).
	Replace(ctx context.Context, v model.LedgerVoucher) error
	// Discard removes a superseded voucher from the queue.
	Discard(ctx context.Context, id string) error
	// Hold parks vouchers under a conflict so they are not due.
	Hold(ctx context.Context, conflictID string, ids ...string) error
	// Release clears the hold on a voucher.
	Release(ctx context.Context, id string) error
	// Failed lists permanently failed vouchers awaiting manual review.
	Failed(ctx context.Context) ([]model.LedgerVoucher, error)

	SaveConflict(ctx context.Context, c model.Conflict) error
	Conflict(ctx context.Context, id string) (model.Conflict, error)
	// Conflicts lists conflicts, newest first. Resolved ones only when includeResolved.
	Conflicts(ctx context.Context, includeResolved bool) ([]model.Conflict, error)

	Counts(ctx context.Context) (Counts, error)
	Ping(ctx context.Context) error
}

// Counts summarises queue contents for stats endpoints.
type Counts struct {
	Pending   int `json:"pending"`
	Failed    int `json:"failed"`
	Permanent int `json:"permanent"`
	Synced    int `json:"synced"`
	Held      int `json:"held"`
	Conflicts int `json:"openConflicts"`
}

func isDue(v model.LedgerVoucher) bool {
	if v.ConflictID != "" {
		return false
	}
	switch v.SyncStatus {
	case model.SyncPending:
		return true
	case model.SyncFailed:
		return !v.Permanent
	}
	return false
}
