// SPDX-License-Identifier: Apache-2.0

package selector

import (
	"strings"

	"github.com/finchley/docflow/internal/domain"
)

// keywordSignals map filename fragments to a category guess. The first
// match wins; fragments are ordered from most to least specific.
var keywordSignals = []struct {
	fragment   string
	category   string
	confidence float64
}{
	{"invoice", "invoice", 0.85},
	{"receipt", "receipt", 0.85},
	{"contract", "contract", 0.85},
	{"agreement", "contract", 0.80},
	{"nda", "contract", 0.75},
	{"sow", "contract", 0.70},
	{"statement", "invoice", 0.60},
	{"bill", "invoice", 0.60},
	{"inv-", "invoice", 0.70},
	{"rcpt", "receipt", 0.70},
}

// largeDocumentBytes is the size above which a PDF is more likely a
// multi-page contract than a single-page invoice or receipt.
const largeDocumentBytes = 1 << 20

// classify guesses a document category from filename, mime type and size.
// It is deliberately cheap: no text extraction, no inference calls.
func classify(doc *domain.Document) (category string, confidence float64) {
	name := strings.ToLower(doc.Filename)
	for _, sig := range keywordSignals {
		if strings.Contains(name, sig.fragment) {
			return sig.category, sig.confidence
		}
	}

	// Photographed documents are overwhelmingly receipts in practice.
	if strings.HasPrefix(doc.MimeType, "image/") {
		return "receipt", 0.55
	}

	if doc.MimeType == "application/pdf" && doc.SizeBytes > largeDocumentBytes {
		return "contract", 0.50
	}

	return "general", 0.40
}
