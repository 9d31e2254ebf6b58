// SPDX-License-Identifier: Apache-2.0

package fieldextract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type fieldKind int

const (
	kindText fieldKind = iota
	kindMoney
	kindDate
	kindOrganization
	kindPerson
)

// fieldSpec names one field of a category, the entity kind that can fill it,
// the semantic role used for context classification, and the pattern
// baseline that works with no external dependency.
type fieldSpec struct {
	name    string
	kind    fieldKind
	role    string
	pattern func(text string) (candidate, bool)
}

// moneyRoles are the candidate labels for classifying a money entity by its
// surrounding context.
var moneyRoles = []string{"total", "subtotal", "tax", "discount", "other"}

var dateRoles = []string{
	"invoice date", "due date", "transaction date",
	"effective date", "expiration date", "document date",
}

const (
	patternLabeledConfidence = 0.70
	patternLooseConfidence   = 0.50
	patternFirstConfidence   = 0.35
)

var (
	reInvoiceNumber = regexp.MustCompile(`(?i)invoice\s*(?:number|no\.?|num\.?)?\s*[:#]?\s*#?\s*([A-Za-z]*\d[A-Za-z\d/-]*)`)
	reTotal         = regexp.MustCompile(`(?i)(?:grand\s+total|amount\s+due|balance\s+due|\btotal(?:\s+due)?)\s*[:=]?\s*\$?\s*(\d[\d,]*(?:\.\d{2})?)`)
	reSubtotal      = regexp.MustCompile(`(?i)sub\s*-?\s*total\s*[:=]?\s*\$?\s*(\d[\d,]*(?:\.\d{2})?)`)
	reTax           = regexp.MustCompile(`(?i)(?:sales\s+)?(?:tax|vat|gst)\s*(?:\(\s*[\d.]+\s*%\s*\))?\s*[:=]?\s*\$?\s*(\d[\d,]*(?:\.\d{2})?)`)
	reAmount        = regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d{2})?)|\b(\d{1,3}(?:,\d{3})*\.\d{2})\b`)
	rePayment       = regexp.MustCompile(`(?i)(?:paid\s+(?:by|with)|payment\s+(?:method|type))\s*[:=]?\s*([A-Za-z][A-Za-z ]{2,30})`)
	reVendorLabel   = regexp.MustCompile(`(?i)(?:from|vendor|seller|billed\s+by|merchant)\s*[:=]\s*(.{2,80})`)
	rePartyLabel    = regexp.MustCompile(`(?i)(?:between|party|counterparty|client)\s*[:=]?\s*(.{2,80})`)

	reDateToken = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4}|(?i:January|February|March|April|May|June|July|August|September|October|November|December|Jan|Feb|Mar|Apr|Jun|Jul|Aug|Sep|Oct|Nov|Dec)\.?\s+\d{1,2},?\s+\d{4})\b`)

	reInvoiceDate    = labeledDate(`(?:invoice\s+date|date\s+of\s+issue|issued?(?:\s+on)?|dated)`)
	reDueDate        = labeledDate(`(?:due\s+date|due(?:\s+on|\s+by)?|payable\s+by)`)
	reTxDate         = labeledDate(`(?:transaction\s+date|purchase\s+date|date)`)
	reEffectiveDate  = labeledDate(`(?:effective\s+(?:date|as\s+of)|commencing(?:\s+on)?)`)
	reExpirationDate = labeledDate(`(?:expir(?:ation|y)\s+date|expires?(?:\s+on)?|terminat(?:es|ion)(?:\s+on)?)`)
)

func labeledDate(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + label + `\s*[:=]?\s*` + reDateToken.String())
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006", "1/2/2006", "01/02/06", "1/2/06",
	"January 2, 2006", "January 2 2006",
	"Jan 2, 2006", "Jan 2 2006", "Jan. 2, 2006",
}

// normalizeDate maps the accepted textual date forms to ISO 8601. Unparseable
// input passes through unchanged so a human reviewer still sees it.
func normalizeDate(raw string) string {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return raw
}

func parseAmount(raw string) (float64, bool) {
	raw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
	raw = strings.ReplaceAll(raw, ",", "")
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return f, true
}

// allAmounts returns every monetary amount in the text, in order.
func allAmounts(text string) []float64 {
	var out []float64
	for _, m := range reAmount.FindAllStringSubmatch(text, -1) {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if f, ok := parseAmount(raw); ok {
			out = append(out, f)
		}
	}
	return out
}

func maxAmount(text string) (float64, bool) {
	amounts := allAmounts(text)
	if len(amounts) == 0 {
		return 0, false
	}
	best := amounts[0]
	for _, a := range amounts[1:] {
		if a > best {
			best = a
		}
	}
	return best, true
}

func firstDate(text string) (string, bool) {
	if m := reDateToken.FindString(text); m != "" {
		return normalizeDate(m), true
	}
	return "", false
}

func patternString(re *regexp.Regexp, confidence float64) func(string) (candidate, bool) {
	return func(text string) (candidate, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return candidate{}, false
		}
		v := strings.TrimSpace(m[1])
		if v == "" {
			return candidate{}, false
		}
		return candidate{value: v, confidence: confidence, method: patternMethod}, true
	}
}

func patternMoney(re *regexp.Regexp, confidence float64) func(string) (candidate, bool) {
	return func(text string) (candidate, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return candidate{}, false
		}
		f, ok := parseAmount(m[1])
		if !ok {
			return candidate{}, false
		}
		return candidate{value: f, confidence: confidence, method: patternMethod}, true
	}
}

func patternDate(re *regexp.Regexp, confidence float64) func(string) (candidate, bool) {
	return func(text string) (candidate, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return candidate{}, false
		}
		return candidate{value: normalizeDate(m[1]), confidence: confidence, method: patternMethod}, true
	}
}

// fieldsForCategory returns the field table driving extraction. Unknown
// categories fall back to the general table.
func fieldsForCategory(category string) []fieldSpec {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case "invoice":
		return []fieldSpec{
			{name: "invoice_number", kind: kindText, pattern: patternString(reInvoiceNumber, patternLabeledConfidence)},
			{name: "vendor_name", kind: kindOrganization, pattern: patternString(reVendorLabel, patternLooseConfidence)},
			{name: "invoice_date", kind: kindDate, role: "invoice date", pattern: patternDate(reInvoiceDate, patternLabeledConfidence)},
			{name: "due_date", kind: kindDate, role: "due date", pattern: patternDate(reDueDate, patternLabeledConfidence)},
			{name: "total_amount", kind: kindMoney, role: "total", pattern: patternMoney(reTotal, patternLabeledConfidence)},
			{name: "tax_amount", kind: kindMoney, role: "tax", pattern: patternMoney(reTax, patternLabeledConfidence)},
		}
	case "receipt":
		return []fieldSpec{
			{name: "merchant_name", kind: kindOrganization, pattern: patternString(reVendorLabel, patternLooseConfidence)},
			{name: "transaction_date", kind: kindDate, role: "transaction date", pattern: patternDate(reTxDate, patternLooseConfidence)},
			{name: "total_amount", kind: kindMoney, role: "total", pattern: patternMoney(reTotal, patternLabeledConfidence)},
			{name: "payment_method", kind: kindText, pattern: patternString(rePayment, patternLabeledConfidence)},
		}
	case "contract":
		return []fieldSpec{
			{name: "counterparty", kind: kindOrganization, pattern: patternString(rePartyLabel, patternLooseConfidence)},
			{name: "effective_date", kind: kindDate, role: "effective date", pattern: patternDate(reEffectiveDate, patternLabeledConfidence)},
			{name: "expiration_date", kind: kindDate, role: "expiration date", pattern: patternDate(reExpirationDate, patternLabeledConfidence)},
			{name: "contract_value", kind: kindMoney, role: "total", pattern: patternMoney(reTotal, patternLooseConfidence)},
		}
	default:
		return []fieldSpec{
			{name: "organization", kind: kindOrganization, pattern: patternString(reVendorLabel, patternLooseConfidence)},
			{name: "document_date", kind: kindDate, role: "document date", pattern: patternDate(reTxDate, patternLooseConfidence)},
			{name: "amount", kind: kindMoney, role: "total", pattern: patternMoney(reTotal, patternLooseConfidence)},
		}
	}
}
