package doctypes

import (
	"regexp"
	"strings"
)

// CompanySuffixes maps spelled-out company suffixes to the short form ledgers use.
var CompanySuffixes = map[string]string{
	"private limited":           "Pvt. Ltd.",
	"pvt ltd":                   "Pvt. Ltd.",
	"pvt. ltd":                  "Pvt. Ltd.",
	"pvt. ltd.":                 "Pvt. Ltd.",
	"limited":                   "Ltd.",
	"ltd":                       "Ltd.",
	"limited liability company": "LLC",
	"l.l.c.":                    "LLC",
	"incorporated":              "Inc.",
	"inc":                       "Inc.",
	"corporation":               "Corp.",
	"corp":                      "Corp.",
}

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeLedgerName collapses whitespace and shortens a trailing company
// suffix, so "Acme  Private Limited" and "Acme Pvt Ltd" name the same ledger.
func NormalizeLedgerName(s string) string {
	s = strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))

	// Longest suffix first so "private limited" wins over "limited".
	best := ""
	for suffix := range CompanySuffixes {
		n := len(suffix) + 1
		if len(suffix) > len(best) && len(s) > n && strings.EqualFold(s[len(s)-n:], " "+suffix) {
			best = suffix
		}
	}
	if best == "" {
		return s
	}
	return s[:len(s)-len(best)] + CompanySuffixes[best]
}

var referencePrefix = regexp.MustCompile(`(?i)^(?:no\.?|number|#)\s*[:#]?\s*`)

// NormalizeReference upper-cases a document number and drops a leading "No." or "#".
func NormalizeReference(s string) string {
	s = strings.TrimSpace(s)
	s = referencePrefix.ReplaceAllString(s, "")
	return strings.ToUpper(strings.TrimSpace(s))
}
