// Package model defines the records that flow between sources, the
// automation engine, the pending-sync queue and the destination ledger.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Document is a raw business document pulled from a source adapter.
// It is never mutated once created; the pipeline only reads it.
type Document struct {
	ID          string         `json:"id"`
	SourceType  string         `json:"sourceType"`
	Category    string         `json:"category,omitempty"`
	Subcategory string         `json:"subcategory,omitempty"`
	FileName    string         `json:"fileName,omitempty"`
	RawPayload  map[string]any `json:"rawPayload"`
	ReceivedAt  time.Time      `json:"receivedAt"`
}

// Text returns the payload value for key as a trimmed string.
// Keys are matched case-insensitively. Missing keys and nil values yield "".
func (d Document) Text(key string) string {
	v, ok := d.lookup(key)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// Value returns the raw payload value for key and whether it was present.
func (d Document) Value(key string) (any, bool) {
	return d.lookup(key)
}

func (d Document) lookup(key string) (any, bool) {
	if d.RawPayload == nil {
		return nil, false
	}
	if v, ok := d.RawPayload[key]; ok {
		return v, true
	}
	for k, v := range d.RawPayload {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// DocumentRef identifies a document a source can fetch.
type DocumentRef struct {
	SourceType string    `json:"sourceType"`
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// FieldName is one of the six canonical fields mapped from a document.
type FieldName string

const (
	FieldDate        FieldName = "date"
	FieldAmount      FieldName = "amount"
	FieldLedger      FieldName = "ledger"
	FieldVoucherType FieldName = "voucherType"
	FieldNarration   FieldName = "narration"
	FieldReference   FieldName = "reference"
)

// CanonicalFields lists the mapped fields in a stable order.
var CanonicalFields = []FieldName{
	FieldDate, FieldAmount, FieldLedger, FieldVoucherType, FieldNarration, FieldReference,
}

// Fields holds the raw extracted values. Empty means not found.
type Fields struct {
	Date        string `json:"date"`
	Amount      string `json:"amount"`
	Ledger      string `json:"ledger"`
	VoucherType string `json:"voucherType"`
	Narration   string `json:"narration"`
	Reference   string `json:"reference"`
}

// Get returns the value stored for name.
func (f Fields) Get(name FieldName) string {
	switch name {
	case FieldDate:
		return f.Date
	case FieldAmount:
		return f.Amount
	case FieldLedger:
		return f.Ledger
	case FieldVoucherType:
		return f.VoucherType
	case FieldNarration:
		return f.Narration
	case FieldReference:
		return f.Reference
	}
	return ""
}

// Set stores value under name. Unknown names are ignored.
func (f *Fields) Set(name FieldName, value string) {
	switch name {
	case FieldDate:
		f.Date = value
	case FieldAmount:
		f.Amount = value
	case FieldLedger:
		f.Ledger = value
	case FieldVoucherType:
		f.VoucherType = value
	case FieldNarration:
		f.Narration = value
	case FieldReference:
		f.Reference = value
	}
}

// CandidateRecord is the field mapper's output for a single document.
type CandidateRecord struct {
	DocumentID string  `json:"documentId"`
	Fields     Fields  `json:"fields"`
	Confidence float64 `json:"confidence"`
}
