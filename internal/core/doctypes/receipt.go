package doctypes

import (
	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/model"
)

func init() {
	registerReceipt()
}

func registerReceipt() {
	core.Register(core.DocumentType{
		Key:              "receipt",
		Label:            "Receipt",
		Subcategory:      "payment",
		VoucherType:      "Receipt",
		Keywords:         []string{"receipt", "received from", "paid", "payment mode", "thank you"},
		FilenamePatterns: []string{"receipt", "rcpt"},
		Aliases: map[model.FieldName][]string{
			model.FieldDate:      {"receipt_date", "payment_date"},
			model.FieldAmount:    {"amount_paid", "amount_received", "paid"},
			model.FieldLedger:    {"received_from", "paid_by", "merchant", "store"},
			model.FieldReference: {"receipt_no", "receipt_number", "transaction_id"},
		},
		Normalizers: map[model.FieldName]func(string) string{
			model.FieldLedger:    NormalizeLedgerName,
			model.FieldReference: NormalizeReference,
		},
	})
}
