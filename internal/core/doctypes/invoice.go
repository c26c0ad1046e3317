package doctypes

import (
	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/model"
)

func init() {
	registerInvoice()
}

func registerInvoice() {
	core.Register(core.DocumentType{
		Key:              "invoice",
		Label:            "Invoice",
		Subcategory:      "purchase",
		VoucherType:      "Purchase",
		Keywords:         []string{"invoice", "bill to", "gstin", "invoice number", "due date"},
		FilenamePatterns: []string{"invoice", "inv_", "bill"},
		Aliases: map[model.FieldName][]string{
			model.FieldDate:      {"invoice_date", "bill_date"},
			model.FieldAmount:    {"invoice_total", "grand_total", "amount_due"},
			model.FieldLedger:    {"vendor", "vendor_name", "supplier", "seller"},
			model.FieldReference: {"invoice_number", "invoice_no", "bill_no"},
		},
		Normalizers: map[model.FieldName]func(string) string{
			model.FieldLedger:    NormalizeLedgerName,
			model.FieldReference: NormalizeReference,
		},
	})
}
