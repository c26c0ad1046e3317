package model

import "time"

// ConflictStrategy selects how competing voucher versions are reconciled.
type ConflictStrategy string

const (
	ResolveSmart     ConflictStrategy = "smart"
	ResolveTimestamp ConflictStrategy = "timestamp"
	ResolveManual    ConflictStrategy = "manual"
)

// Valid reports whether s is a known strategy.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case ResolveSmart, ResolveTimestamp, ResolveManual:
		return true
	}
	return false
}

// Conflict is raised when two updates target the same ledger entity.
type Conflict struct {
	ID         string          `json:"id"`
	EntityKey  string          `json:"entityKey"`
	RecordRef  string          `json:"recordRef"`
	Versions   []LedgerVoucher `json:"competingVersions"`
	DetectedAt time.Time       `json:"detectedAt"`
	Resolution *Resolution     `json:"resolution,omitempty"`
}

// Resolved reports whether the conflict has reached its terminal state.
func (c Conflict) Resolved() bool {
	return c.Resolution != nil
}

// Resolution is the outcome applied to a conflict.
type Resolution struct {
	Strategy   ConflictStrategy `json:"strategy"`
	WinnerID   string           `json:"winnerId,omitempty"`
	Merged     *LedgerVoucher   `json:"merged,omitempty"`
	Confidence float64          `json:"confidence"`
	ResolvedAt time.Time        `json:"resolvedAt"`
	Note       string           `json:"note,omitempty"`
}
