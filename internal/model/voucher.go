package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SyncStatus is the synchronisation state of a voucher.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncFailed  SyncStatus = "failed"
)

// CanTransition reports whether a voucher may move from s to next.
// Allowed: pending->synced, pending->failed, failed->pending.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	switch s {
	case SyncPending:
		return next == SyncSynced || next == SyncFailed
	case SyncFailed:
		return next == SyncPending
	default:
		return false
	}
}

// LedgerVoucher is a single accounting transaction ready for the destination ledger.
type LedgerVoucher struct {
	ID           string          `json:"id"`
	DocumentID   string          `json:"documentId"`
	VoucherType  string          `json:"voucherType"`
	Date         time.Time       `json:"date"`
	Amount       decimal.Decimal `json:"amount"`
	LedgerName   string          `json:"ledgerName"`
	Narration    string          `json:"narration"`
	Reference    string          `json:"reference"`
	DocumentType string          `json:"documentType"`
	Confidence   float64         `json:"confidence"`

	SyncStatus SyncStatus `json:"syncStatus"`
	Attempts   int        `json:"attempts"`
	Permanent  bool       `json:"permanent"` // retries exhausted, needs manual review
	ExternalID string     `json:"externalId,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	ConflictID string     `json:"conflictId,omitempty"` // set while held by a manual conflict

	// ConflictPolicy overrides the reconciler's default strategy for conflicts
	// involving this voucher. Empty means the default.
	ConflictPolicy ConflictStrategy `json:"conflictPolicy,omitempty"`

	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// DateString returns the voucher date in canonical YYYY-MM-DD form.
func (v LedgerVoucher) DateString() string {
	if v.Date.IsZero() {
		return ""
	}
	return v.Date.Format(DateLayout)
}

// EntityKey identifies the external ledger entity a voucher writes to.
// Vouchers carrying a reference are keyed by voucher type and reference;
// the rest fall back to the (ledger, date, amount) tuple.
func (v LedgerVoucher) EntityKey() string {
	if v.Reference != "" {
		return fmt.Sprintf("ref|%s|%s", v.VoucherType, v.Reference)
	}
	return fmt.Sprintf("tuple|%s|%s|%s", v.LedgerName, v.DateString(), v.Amount.StringFixed(2))
}

// SameContent reports whether two vouchers would write identical ledger values.
func (v LedgerVoucher) SameContent(o LedgerVoucher) bool {
	return v.VoucherType == o.VoucherType &&
		v.DateString() == o.DateString() &&
		v.Amount.Equal(o.Amount) &&
		v.LedgerName == o.LedgerName &&
		v.Narration == o.Narration &&
		v.Reference == o.Reference
}

// DateLayout is the canonical calendar date format for vouchers.
const DateLayout = "2006-01-02"
