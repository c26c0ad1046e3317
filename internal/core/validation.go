package core

// validation.go scores a candidate record before it becomes a voucher.
//
// Each missing or malformed required field adds an issue and subtracts a
// fixed penalty from a starting confidence of 1.0:
//
//	date    missing -> "Missing date"   0.3
//	date    bad     -> "Invalid date"   0.3
//	amount  bad     -> "Invalid amount" 0.4
//	ledger  missing -> "Missing ledger" 0.2
//
// The strict level requires date, amount and ledger; lenient drops date.

import (
	"fmt"
	"math"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// ValidationLevel selects which fields are required.
type ValidationLevel string

const (
	LevelStrict  ValidationLevel = "strict"
	LevelLenient ValidationLevel = "lenient"
)

// Valid reports whether l is a known level.
func (l ValidationLevel) Valid() bool {
	return l == LevelStrict || l == LevelLenient
}

// Issue texts reported by the validator.
const (
	IssueMissingDate   = "Missing date"
	IssueInvalidDate   = "Invalid date"
	IssueInvalidAmount = "Invalid amount"
	IssueMissingLedger = "Missing ledger"
)

// Penalties subtracted per issue.
const (
	PenaltyDate   = 0.3
	PenaltyAmount = 0.4
	PenaltyLedger = 0.2
)

// AcceptThreshold is the confidence at which an invalid candidate is still transformed.
const AcceptThreshold = 0.9

// ValidationResult is the validator's verdict on a candidate.
type ValidationResult struct {
	IsValid    bool     `json:"isValid"`
	Confidence float64  `json:"confidence"`
	Issues     []string `json:"issues"`
}

// Accepted reports whether the candidate should be transformed.
func (r ValidationResult) Accepted() bool {
	return r.IsValid || r.Confidence >= AcceptThreshold
}

// Validator scores candidate records.
type Validator struct{}

// Validate checks c against the required fields for level. Unknown levels
// are treated as strict. Issues are reported in date, amount, ledger order.
func (Validator) Validate(c model.CandidateRecord, level ValidationLevel) ValidationResult {
	var issues []string
	penalty := 0.0

	if level != LevelLenient {
		switch {
		case c.Fields.Date == "":
			issues = append(issues, IssueMissingDate)
			penalty += PenaltyDate
		default:
			if _, ok := ParseDate(c.Fields.Date); !ok {
				issues = append(issues, IssueInvalidDate)
				penalty += PenaltyDate
			}
		}
	}

	if _, ok := ParseAmount(c.Fields.Amount); !ok {
		issues = append(issues, IssueInvalidAmount)
		penalty += PenaltyAmount
	}

	if c.Fields.Ledger == "" {
		issues = append(issues, IssueMissingLedger)
		penalty += PenaltyLedger
	}

	return ValidationResult{
		IsValid:    len(issues) == 0,
		Confidence: confidenceAfter(penalty),
		Issues:     issues,
	}
}

// confidenceAfter clamps 1-penalty to [0, 1], rounded to avoid float noise
// such as 0.30000000000000004.
func confidenceAfter(penalty float64) float64 {
	c := math.Max(0, 1.0-penalty)
	return math.Round(c*1000) / 1000
}

// String renders the result for logs.
func (r ValidationResult) String() string {
	if r.IsValid {
		return fmt.Sprintf("valid (%.2f)", r.Confidence)
	}
	return fmt.Sprintf("invalid (%.2f): %v", r.Confidence, r.Issues)
}
