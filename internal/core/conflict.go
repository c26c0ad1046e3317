package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/ledgersync/internal/model"
	"github.com/JonMunkholm/ledgersync/internal/store"
)

// Two due vouchers conflict when they share an entity key (see
// model.LedgerVoucher.EntityKey) but would write different ledger values.
// Identical duplicates are collapsed into the oldest one without a conflict.

// resolveConflicts groups due vouchers by entity key, settles every group
// and returns the vouchers that should be sent this cycle, in due order.
func (r *Reconciler) resolveConflicts(ctx context.Context, due []model.LedgerVoucher, report *CycleReport) ([]model.LedgerVoucher, error) {
	mctx := context.WithoutCancel(ctx)

	groups := make(map[string][]model.LedgerVoucher)
	var order []string
	for _, v := range due {
		key := v.EntityKey()
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], v)
	}

	var sendable []model.LedgerVoucher
	for _, key := range order {
		versions := groups[key]
		if len(versions) == 1 {
			sendable = append(sendable, versions[0])
			continue
		}

		distinct, duplicates := collapseDuplicates(versions)
		for _, d := range duplicates {
			if err := r.queue.Discard(mctx, d.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("discard duplicate %s: %w", d.ID, err)
			}
			slog.Info("discarded duplicate voucher", "voucher_id", d.ID, "entity_key", key)
		}
		if len(distinct) == 1 {
			sendable = append(sendable, distinct[0])
			continue
		}

		winner, err := r.settle(mctx, key, distinct, report)
		if err != nil {
			return nil, err
		}
		if winner != nil {
			sendable = append(sendable, *winner)
		}
	}
	return sendable, nil
}

// settle records a conflict for versions and applies the strategy.
// It returns the voucher to send, or nil when the versions are held.
func (r *Reconciler) settle(ctx context.Context, key string, versions []model.LedgerVoucher, report *CycleReport) (*model.LedgerVoucher, error) {
	now := time.Now().UTC()
	strategy := r.strategyFor(versions)

	c := model.Conflict{
		ID:         uuid.NewString(),
		EntityKey:  key,
		RecordRef:  recordRef(versions[0]),
		Versions:   versions,
		DetectedAt: now,
	}
	report.Conflicts++
	r.metrics.RecordConflict(strategy)

	res, winner := ResolveConflict(strategy, versions, now)

	if strategy == model.ResolveManual {
		ids := make([]string, len(versions))
		for i, v := range versions {
			ids[i] = v.ID
		}
		if err := r.queue.Hold(ctx, c.ID, ids...); err != nil {
			return nil, fmt.Errorf("hold conflict %s: %w", c.ID, err)
		}
		report.Held += len(ids)
	} else {
		c.Resolution = &res
		if err := r.queue.Replace(ctx, *winner); err != nil {
			return nil, fmt.Errorf("apply resolution %s: %w", c.ID, err)
		}
		for _, v := range versions {
			if v.ID == winner.ID {
				continue
			}
			if err := r.queue.Discard(ctx, v.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("discard superseded %s: %w", v.ID, err)
			}
		}
	}

	if err := r.queue.SaveConflict(ctx, c); err != nil {
		return nil, fmt.Errorf("save conflict %s: %w", c.ID, err)
	}

	r.events.Publish(EventConflictDetected, ConflictPayload{
		Conflict:   c,
		Strategy:   strategy,
		Confidence: res.Confidence,
	})
	slog.Info("conflict detected",
		"conflict_id", c.ID,
		"entity_key", key,
		"versions", len(versions),
		"strategy", strategy,
		"confidence", res.Confidence,
	)
	return winner, nil
}

// strategyFor returns the policy stamped on the most recently modified
// version, falling back to the configured default.
func (r *Reconciler) strategyFor(versions []model.LedgerVoucher) model.ConflictStrategy {
	sorted := byRecency(versions)
	for i := len(sorted) - 1; i >= 0; i-- {
		if p := sorted[i].ConflictPolicy; p.Valid() {
			return p
		}
	}
	return r.settings.ConflictResolution
}

// ResolveConflict applies strategy to competing versions of one entity.
//
//   - timestamp: the most recently modified version wins, confidence 1.0
//   - smart: the highest-confidence version is kept and its empty fields are
//     filled from the others; the kept version's confidence is reported
//   - manual: nothing is chosen, confidence 0, winner is nil
//
// The result does not depend on the order of versions.
func ResolveConflict(strategy model.ConflictStrategy, versions []model.LedgerVoucher, now time.Time) (model.Resolution, *model.LedgerVoucher) {
	res := model.Resolution{Strategy: strategy, ResolvedAt: now}
	if len(versions) == 0 {
		return res, nil
	}

	switch strategy {
	case model.ResolveTimestamp:
		sorted := byRecency(versions)
		winner := sorted[len(sorted)-1]
		res.WinnerID = winner.ID
		res.Confidence = 1.0
		res.Note = "most recently modified version kept"
		return res, &winner

	case model.ResolveManual:
		res.Confidence = 0
		res.Note = "held for manual review"
		return res, nil

	default:
		sorted := byRecency(versions)
		slices.Reverse(sorted)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Confidence > sorted[j].Confidence
		})
		// Newest first, so equal confidence keeps the newest version.
		merged := sorted[0]
		for _, other := range sorted[1:] {
			fillEmpty(&merged, other)
		}
		res.Strategy = model.ResolveSmart
		res.WinnerID = merged.ID
		res.Merged = &merged
		res.Confidence = merged.Confidence
		res.Note = fmt.Sprintf("merged %d versions onto the most confident one", len(versions))
		return res, &merged
	}
}

// byRecency returns a copy sorted oldest first by ModifiedAt, then CreatedAt, then ID.
func byRecency(versions []model.LedgerVoucher) []model.LedgerVoucher {
	sorted := append([]model.LedgerVoucher(nil), versions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.ModifiedAt.Equal(b.ModifiedAt) {
			return a.ModifiedAt.Before(b.ModifiedAt)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sorted
}

// fillEmpty copies fields that are empty on dst from src.
func fillEmpty(dst *model.LedgerVoucher, src model.LedgerVoucher) {
	if dst.LedgerName == "" {
		dst.LedgerName = src.LedgerName
	}
	if dst.Narration == "" {
		dst.Narration = src.Narration
	}
	if dst.Reference == "" {
		dst.Reference = src.Reference
	}
	if dst.Date.IsZero() {
		dst.Date = src.Date
	}
	if dst.Amount.IsZero() {
		dst.Amount = src.Amount
	}
	if dst.VoucherType == "" {
		dst.VoucherType = src.VoucherType
	}
}

// collapseDuplicates splits versions into distinct contents (oldest of each
// kept) and the identical duplicates to drop.
func collapseDuplicates(versions []model.LedgerVoucher) (distinct, duplicates []model.LedgerVoucher) {
	for _, v := range byRecency(versions) {
		dup := false
		for _, d := range distinct {
			if d.SameContent(v) {
				dup = true
				break
			}
		}
		if dup {
			duplicates = append(duplicates, v)
		} else {
			distinct = append(distinct, v)
		}
	}
	return distinct, duplicates
}

func recordRef(v model.LedgerVoucher) string {
	if v.Reference != "" {
		return v.VoucherType + " " + v.Reference
	}
	return v.LedgerName + " " + v.DateString()
}

// Conflicts lists conflicts, newest first.
func (r *Reconciler) Conflicts(ctx context.Context, includeResolved bool) ([]model.Conflict, error) {
	return r.queue.Conflicts(ctx, includeResolved)
}

// AcknowledgeConflict settles a held conflict by keeping versionID. The
// kept voucher becomes due again; the other versions are discarded.
func (r *Reconciler) AcknowledgeConflict(ctx context.Context, id, versionID string) (model.Conflict, error) {
	c, err := r.queue.Conflict(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return model.Conflict{}, fmt.Errorf("conflict %s: %w", id, ErrConflictNotFound)
	}
	if err != nil {
		return model.Conflict{}, err
	}
	if c.Resolved() {
		return model.Conflict{}, fmt.Errorf("conflict %s already resolved: %w", id, ErrConflictNotFound)
	}

	found := false
	for _, v := range c.Versions {
		if v.ID == versionID {
			found = true
			break
		}
	}
	if !found {
		return model.Conflict{}, fmt.Errorf("version %s is not part of conflict %s: %w", versionID, id, store.ErrNotFound)
	}

	if err := r.queue.Release(ctx, versionID); err != nil {
		return model.Conflict{}, fmt.Errorf("release %s: %w", versionID, err)
	}
	for _, v := range c.Versions {
		if v.ID == versionID {
			continue
		}
		if err := r.queue.Discard(ctx, v.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return model.Conflict{}, fmt.Errorf("discard %s: %w", v.ID, err)
		}
	}

	c.Resolution = &model.Resolution{
		Strategy:   model.ResolveManual,
		WinnerID:   versionID,
		Confidence: 1.0,
		ResolvedAt: time.Now().UTC(),
		Note:       "acknowledged",
	}
	if err := r.queue.SaveConflict(ctx, c); err != nil {
		return model.Conflict{}, fmt.Errorf("save conflict %s: %w", id, err)
	}
	slog.Info("conflict acknowledged", "conflict_id", id, "winner_id", versionID)
	return c, nil
}
