package core

import (
	"errors"
	"testing"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

func TestMapFields_Aliases(t *testing.T) {
	doc := model.Document{
		ID: "doc-1",
		RawPayload: map[string]any{
			"Transaction Date": "15/01/2024",
			"Total Amount":     "₹ 1,500.50",
			"Party Name":       "Acme Traders",
			"Remarks":          "Office chairs",
			"Ref No":           "INV-7",
		},
	}

	rec := DefaultFieldMapper().MapFields(doc)

	want := model.Fields{
		Date:      "15/01/2024",
		Amount:    "₹ 1,500.50",
		Ledger:    "Acme Traders",
		Narration: "Office chairs",
		Reference: "INV-7",
	}
	if rec.Fields != want {
		t.Errorf("Fields = %+v, want %+v", rec.Fields, want)
	}
	if rec.DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q", rec.DocumentID)
	}
	if rec.Confidence != 5.0/6.0 {
		t.Errorf("Confidence = %v, want 5/6", rec.Confidence)
	}
}

func TestMapFields_FreeText(t *testing.T) {
	doc := model.Document{
		ID: "scan-1",
		RawPayload: map[string]any{
			"text": "Tax Invoice No: A-991\nDated 2024-02-03\nGrand Total: Rs. 2,360.00",
		},
	}

	rec := DefaultFieldMapper().MapFields(doc)
	if rec.Fields.Date != "2024-02-03" {
		t.Errorf("Date = %q", rec.Fields.Date)
	}
	if rec.Fields.Amount != "2,360.00" {
		t.Errorf("Amount = %q", rec.Fields.Amount)
	}
	if rec.Fields.Reference != "A-991" {
		t.Errorf("Reference = %q", rec.Fields.Reference)
	}
	if rec.Fields.Ledger != "" {
		t.Errorf("Ledger = %q, want empty", rec.Fields.Ledger)
	}
}

type panicExtractor struct{ field model.FieldName }

func (p panicExtractor) Field() model.FieldName { return p.field }

func (p panicExtractor) Extract(model.Document, DocumentType) (string, error) {
	panic("boom")
}

type errExtractor struct{ field model.FieldName }

func (e errExtractor) Field() model.FieldName { return e.field }

func (e errExtractor) Extract(model.Document, DocumentType) (string, error) {
	return "ignored", errors.New("lookup failed")
}

func TestMapFields_ExtractorFailuresAreIsolated(t *testing.T) {
	m := DefaultFieldMapper()
	m.Use(panicExtractor{field: model.FieldDate})
	m.Use(errExtractor{field: model.FieldLedger})

	doc := model.Document{RawPayload: map[string]any{
		"date":   "2024-01-01",
		"amount": 99,
		"ledger": "Rent",
	}}

	rec := m.MapFields(doc)
	if rec.Fields.Date != "" {
		t.Errorf("Date = %q, want empty after panic", rec.Fields.Date)
	}
	if rec.Fields.Ledger != "" {
		t.Errorf("Ledger = %q, want empty after error", rec.Fields.Ledger)
	}
	if rec.Fields.Amount != "99" {
		t.Errorf("Amount = %q, want 99", rec.Fields.Amount)
	}
}

func TestMapFields_EmptyPayload(t *testing.T) {
	rec := DefaultFieldMapper().MapFields(model.Document{ID: "empty"})
	if rec.Fields != (model.Fields{}) {
		t.Errorf("Fields = %+v, want zero", rec.Fields)
	}
	if rec.Confidence != 0 {
		t.Errorf("Confidence = %v, want 0", rec.Confidence)
	}
}
