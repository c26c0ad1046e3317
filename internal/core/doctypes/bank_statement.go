package doctypes

import (
	"strings"

	"github.com/JonMunkholm/ledgersync/internal/core"
	"github.com/JonMunkholm/ledgersync/internal/model"
)

func init() {
	registerBankStatement()
}

func registerBankStatement() {
	core.Register(core.DocumentType{
		Key:              "bank_statement",
		Label:            "Bank Statement",
		Subcategory:      "statement_line",
		VoucherType:      "Payment",
		Keywords:         []string{"withdrawal", "deposit", "balance", "cheque", "value date", "debit", "credit"},
		FilenamePatterns: []string{"statement", "bank", "stmt"},
		Aliases: map[model.FieldName][]string{
			model.FieldDate:      {"value_date", "txn_date", "transaction_date", "posting_date"},
			model.FieldAmount:    {"withdrawal", "withdrawal_amt", "deposit", "deposit_amt"},
			model.FieldLedger:    {"counterparty", "beneficiary", "payee"},
			model.FieldNarration: {"description", "narration", "particulars"},
			model.FieldReference: {"cheque_no", "chq_ref_no", "utr", "ref_no"},
		},
		Normalizers: map[model.FieldName]func(string) string{
			model.FieldLedger:    NormalizeLedgerName,
			model.FieldNarration: strings.TrimSpace,
		},
	})
}
