package core

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// Extractor pulls one canonical field out of a document. A miss returns ""
// (or an error); either way only that field is left empty.
type Extractor interface {
	Field() model.FieldName
	Extract(doc model.Document, dt DocumentType) (string, error)
}

// DefaultAliases are the payload keys tried for each field after any
// document-type specific aliases. Keys match ignoring case, spaces,
// underscores and dashes.
var DefaultAliases = map[model.FieldName][]string{
	model.FieldDate:        {"date", "voucher_date", "transaction_date", "txn_date", "invoice_date", "bill_date", "value_date"},
	model.FieldAmount:      {"amount", "total", "grand_total", "total_amount", "net_amount", "debit", "credit"},
	model.FieldLedger:      {"ledger", "ledger_name", "account", "party", "party_name", "vendor", "customer", "payee"},
	model.FieldVoucherType: {"voucher_type", "vch_type"},
	model.FieldNarration:   {"narration", "description", "particulars", "memo", "remarks", "notes"},
	model.FieldReference:   {"reference", "ref", "reference_no", "ref_no", "invoice_number", "bill_no", "receipt_no", "cheque_no"},
}

// textPatterns extract fields from free text payloads (OCR output, e-mail bodies).
var textPatterns = map[model.FieldName]*regexp.Regexp{
	model.FieldDate:      regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4})\b`),
	model.FieldAmount:    regexp.MustCompile(`(?i)(?:grand total|total|amount)\s*[:=]?\s*(?:rs\.?|inr|₹|\$)?\s*([\d,]+(?:\.\d+)?)`),
	model.FieldReference: regexp.MustCompile(`(?i)(?:invoice|bill|receipt|ref)\s*(?:no\.?|number|#)\s*[:#]?\s*([A-Z0-9][A-Z0-9/-]*)`),
}

// TextPayloadKey is the payload key holding free text.
const TextPayloadKey = "text"

// AliasExtractor looks a field up under a list of payload keys and, when
// none is present, falls back to a pattern over the free text payload.
type AliasExtractor struct {
	Name    model.FieldName
	Aliases []string
	Pattern *regexp.Regexp
}

func (e AliasExtractor) Field() model.FieldName { return e.Name }

func (e AliasExtractor) Extract(doc model.Document, dt DocumentType) (string, error) {
	keys := append(append([]string{}, dt.Aliases[e.Name]...), e.Aliases...)
	if v, ok := lookupAlias(doc, keys); ok {
		return normalizeField(dt, e.Name, v), nil
	}

	if e.Pattern != nil {
		if text := doc.Text(TextPayloadKey); text != "" {
			if m := e.Pattern.FindStringSubmatch(text); len(m) > 1 {
				return normalizeField(dt, e.Name, m[1]), nil
			}
		}
	}
	return "", fmt.Errorf("%s not found", e.Name)
}

func normalizeField(dt DocumentType, field model.FieldName, v string) string {
	if fn := dt.Normalizers[field]; fn != nil {
		return fn(v)
	}
	return v
}

// lookupAlias returns the first non-empty payload value under any of keys.
func lookupAlias(doc model.Document, keys []string) (string, bool) {
	if len(doc.RawPayload) == 0 {
		return "", false
	}
	normalized := make(map[string]string, len(doc.RawPayload))
	for k := range doc.RawPayload {
		nk := normalizeKey(k)
		if _, dup := normalized[nk]; !dup {
			normalized[nk] = k
		}
	}

	for _, alias := range keys {
		k, ok := normalized[normalizeKey(alias)]
		if !ok {
			continue
		}
		if v := payloadString(doc.RawPayload[k]); v != "" {
			return v, true
		}
	}
	return "", false
}

func normalizeKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-', '.':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(k)))
}

func payloadString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return CleanValue(t)
	case float64:
		return FormatNumber(t)
	case float32:
		return FormatNumber(float64(t))
	case bool:
		return ""
	default:
		return CleanValue(fmt.Sprint(t))
	}
}

// FieldMapper runs one Extractor per canonical field.
type FieldMapper struct {
	mu         sync.RWMutex
	extractors map[model.FieldName]Extractor
}

// NewFieldMapper builds a mapper from extractors. Later extractors replace
// earlier ones for the same field.
func NewFieldMapper(extractors ...Extractor) *FieldMapper {
	m := &FieldMapper{extractors: make(map[model.FieldName]Extractor)}
	for _, e := range extractors {
		m.Use(e)
	}
	return m
}

// DefaultFieldMapper maps all six fields using DefaultAliases and text patterns.
func DefaultFieldMapper() *FieldMapper {
	m := NewFieldMapper()
	for _, f := range model.CanonicalFields {
		m.Use(AliasExtractor{Name: f, Aliases: DefaultAliases[f], Pattern: textPatterns[f]})
	}
	return m
}

// Use registers e for its field, replacing any previous extractor.
func (m *FieldMapper) Use(e Extractor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractors[e.Field()] = e
}

// MapFields extracts the canonical fields of doc into a candidate record.
// The document type is looked up from doc.Category. Confidence is the share
// of fields found.
func (m *FieldMapper) MapFields(doc model.Document) model.CandidateRecord {
	dt, _ := Get(doc.Category)

	m.mu.RLock()
	defer m.mu.RUnlock()

	rec := model.CandidateRecord{DocumentID: doc.ID}
	found := 0
	for _, f := range model.CanonicalFields {
		e, ok := m.extractors[f]
		if !ok {
			continue
		}
		if v := safeExtract(e, doc, dt); v != "" {
			rec.Fields.Set(f, v)
			found++
		}
	}
	rec.Confidence = float64(found) / float64(len(model.CanonicalFields))
	return rec
}

// safeExtract isolates a failing or panicking extractor to its own field.
func safeExtract(e Extractor, doc model.Document, dt DocumentType) (value string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("extractor panicked", "field", e.Field(), "document_id", doc.ID, "panic", r)
			value = ""
		}
	}()

	v, err := e.Extract(doc, dt)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(v)
}
