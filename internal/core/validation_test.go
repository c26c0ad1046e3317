package core

import (
	"reflect"
	"testing"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		fields     model.Fields
		level      ValidationLevel
		wantValid  bool
		wantConf   float64
		wantIssues []string
	}{
		{
			name:      "complete record",
			fields:    model.Fields{Date: "2024-01-15", Amount: "1500", Ledger: "Office Supplies"},
			level:     LevelStrict,
			wantValid: true,
			wantConf:  1.0,
		},
		{
			name:       "missing amount",
			fields:     model.Fields{Date: "2024-01-15", Ledger: "Office Supplies"},
			level:      LevelStrict,
			wantConf:   0.6,
			wantIssues: []string{IssueInvalidAmount},
		},
		{
			name:       "unparseable amount",
			fields:     model.Fields{Date: "2024-01-15", Amount: "twelve", Ledger: "Rent"},
			level:      LevelStrict,
			wantConf:   0.6,
			wantIssues: []string{IssueInvalidAmount},
		},
		{
			name:       "missing date strict",
			fields:     model.Fields{Amount: "10", Ledger: "Rent"},
			level:      LevelStrict,
			wantConf:   0.7,
			wantIssues: []string{IssueMissingDate},
		},
		{
			name:      "missing date lenient",
			fields:    model.Fields{Amount: "10", Ledger: "Rent"},
			level:     LevelLenient,
			wantValid: true,
			wantConf:  1.0,
		},
		{
			name:       "invalid date",
			fields:     model.Fields{Date: "31/31/2024", Amount: "10", Ledger: "Rent"},
			level:      LevelStrict,
			wantConf:   0.7,
			wantIssues: []string{IssueInvalidDate},
		},
		{
			name:       "everything missing",
			level:      LevelStrict,
			wantConf:   0.1,
			wantIssues: []string{IssueMissingDate, IssueInvalidAmount, IssueMissingLedger},
		},
		{
			name:       "unknown level is strict",
			fields:     model.Fields{Amount: "10", Ledger: "Rent"},
			level:      ValidationLevel("loose"),
			wantConf:   0.7,
			wantIssues: []string{IssueMissingDate},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Validator{}.Validate(model.CandidateRecord{Fields: tt.fields}, tt.level)
			if got.IsValid != tt.wantValid {
				t.Errorf("IsValid = %v, want %v", got.IsValid, tt.wantValid)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", got.Confidence, tt.wantConf)
			}
			if !reflect.DeepEqual(got.Issues, tt.wantIssues) {
				t.Errorf("Issues = %v, want %v", got.Issues, tt.wantIssues)
			}
			if got.Accepted() != tt.wantValid {
				t.Errorf("Accepted = %v, want %v", got.Accepted(), tt.wantValid)
			}
		})
	}
}

func TestValidationResult_AcceptedAboveThreshold(t *testing.T) {
	r := ValidationResult{IsValid: false, Confidence: AcceptThreshold}
	if !r.Accepted() {
		t.Error("result at the threshold should be accepted")
	}
}
