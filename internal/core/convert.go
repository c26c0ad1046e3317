package core

// convert.go turns raw extracted strings into typed voucher values.
//
// These functions handle the messy reality of scanned and exported documents:
//   - Multiple date formats (ISO, day-first, month-first, month names)
//   - Currency symbols and thousand/lakh separators in amounts
//   - Accounting negatives "(123.45)" and trailing minus signs
//   - Excel formula prefixes (="value") and stray quotes
//
// Parse* functions report ok=false for empty or invalid input instead of
// failing, so a bad field never aborts a record.

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// numericRegex validates that a string is a plain number after cleanup.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// TwoDigitYearPivot defines how 2-digit years are interpreted. Years that
// would land more than this many years in the future belong to the previous century.
var TwoDigitYearPivot = 20

// DayFirst selects DD/MM ordering for ambiguous numeric dates.
// Invoices and bank statements from the supported ledgers are day-first.
var DayFirst = true

var (
	isoLayouts = []string{
		"2006-01-02", "2006/01/02", "2006.01.02", "20060102",
		time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05",
	}
	namedLayouts = []string{
		"Jan 2, 2006", "January 2, 2006", "2 Jan 2006", "02 Jan 2006", "2 January 2006",
		"02-Jan-2006", "2-Jan-2006", "02-Jan-06", "2-Jan-06",
	}
	dayFirstLayouts = []string{
		"2/1/2006", "02/01/2006", "2-1-2006", "02-01-2006", "2.1.2006", "02.01.2006",
	}
	monthFirstLayouts = []string{
		"1/2/2006", "01/02/2006", "1-2-2006", "01-02-2006", "1.2.2006", "01.02.2006",
	}
	dayFirstShortLayouts   = []string{"2/1/06", "02/01/06", "2-1-06", "02.01.06"}
	monthFirstShortLayouts = []string{"1/2/06", "01/02/06", "1-2-06", "01.02.06"}
)

// ParseDate parses s into a calendar date at UTC midnight.
func ParseDate(s string) (time.Time, bool) {
	s = CleanValue(s)
	if s == "" {
		return time.Time{}, false
	}

	numeric, short := monthFirstLayouts, monthFirstShortLayouts
	if DayFirst {
		numeric, short = dayFirstLayouts, dayFirstShortLayouts
	}

	for _, group := range [][]string{isoLayouts, namedLayouts, numeric} {
		for _, layout := range group {
			if t, err := time.Parse(layout, s); err == nil {
				return calendarDate(t), true
			}
		}
	}

	pivotYear := time.Now().Year() + TwoDigitYearPivot
	for _, layout := range short {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() > pivotYear {
				t = t.AddDate(-100, 0, 0)
			}
			return calendarDate(t), true
		}
	}

	return time.Time{}, false
}

func calendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// currencyTokens are stripped from amounts before parsing.
var currencyTokens = []string{
	"$", "€", "£", "₹", "INR", "Rs.", "Rs", "USD", "EUR",
}

// ParseAmount parses s into a fixed-point decimal.
// Handles currency symbols, thousands separators, and accounting negatives.
// NaN, Inf and empty input are rejected.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = CleanValue(s)
	if s == "" {
		return decimal.Zero, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if strings.HasSuffix(s, "-") {
		negative = true
		s = strings.TrimSpace(strings.TrimSuffix(s, "-"))
	}

	for _, tok := range currencyTokens {
		s = strings.ReplaceAll(s, tok, "")
	}
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")

	if !numericRegex.MatchString(s) {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negative {
		d = d.Neg()
	}
	return d, true
}

// FormatNumber renders a payload number without exponent notation.
func FormatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// CleanValue removes common export artifacts from a raw value:
// surrounding whitespace, Excel formula prefixes (="...") and stray quotes.
func CleanValue(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}
