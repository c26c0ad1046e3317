package core

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/ledgersync/internal/model"
)

// DefaultVoucherType is used when neither the document nor its type names one.
const DefaultVoucherType = "Journal"

// voucherTypes maps common spellings to the destination's voucher type names.
var voucherTypes = map[string]string{
	"sales":           "Sales",
	"sale":            "Sales",
	"sales invoice":   "Sales",
	"purchase":        "Purchase",
	"purchases":       "Purchase",
	"purchase bill":   "Purchase",
	"payment":         "Payment",
	"receipt":         "Receipt",
	"journal":         "Journal",
	"jv":              "Journal",
	"contra":          "Contra",
	"credit note":     "Credit Note",
	"debit note":      "Debit Note",
	"sales return":    "Credit Note",
	"purchase return": "Debit Note",
}

// CanonicalVoucherType maps s to a known voucher type name; unknown names pass through trimmed.
func CanonicalVoucherType(s string) string {
	s = strings.TrimSpace(s)
	if v, ok := voucherTypes[strings.ToLower(s)]; ok {
		return v
	}
	return s
}

// ToLedgerVoucher converts a candidate into a pending voucher. It never fails:
// an unparseable date stays zero and an invalid amount becomes 0.
func ToLedgerVoucher(c model.CandidateRecord, documentType string) model.LedgerVoucher {
	now := time.Now().UTC()

	date, _ := ParseDate(c.Fields.Date)
	amount, _ := ParseAmount(c.Fields.Amount)

	voucherType := CanonicalVoucherType(c.Fields.VoucherType)
	if voucherType == "" {
		if dt, ok := Get(documentType); ok && dt.VoucherType != "" {
			voucherType = dt.VoucherType
		} else {
			voucherType = DefaultVoucherType
		}
	}

	return model.LedgerVoucher{
		ID:           uuid.NewString(),
		DocumentID:   c.DocumentID,
		VoucherType:  voucherType,
		Date:         date,
		Amount:       amount.Round(2),
		LedgerName:   strings.TrimSpace(c.Fields.Ledger),
		Narration:    strings.TrimSpace(c.Fields.Narration),
		Reference:    strings.TrimSpace(c.Fields.Reference),
		DocumentType: documentType,
		Confidence:   c.Confidence,
		SyncStatus:   model.SyncPending,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
}
