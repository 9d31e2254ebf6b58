// SPDX-License-Identifier: Apache-2.0

package textextract

import (
	"encoding/hex"
	"regexp"
	"strings"
)

// salvageStrategy is a last-resort text recovery attempt over raw bytes.
// Candidates still have to pass the junk validator before being accepted.
type salvageStrategy struct {
	name    string
	recover func(data []byte) string
}

// salvageStrategies run in order after structured parse and OCR both fail.
var salvageStrategies = []salvageStrategy{
	{name: "printable-ascii", recover: salvagePrintableASCII},
	{name: "hex-decode", recover: salvageHexDecode},
	{name: "marker-delimited", recover: salvageMarkerDelimited},
}

// salvagePrintableASCII keeps printable ASCII runs of a useful length and
// discards the rest.
func salvagePrintableASCII(data []byte) string {
	var sb strings.Builder
	var run []byte
	flush := func() {
		// short runs are almost always struct noise, not words
		if len(run) >= 4 {
			sb.Write(run)
			sb.WriteByte(' ')
		}
		run = run[:0]
	}
	for _, b := range data {
		if (b >= 0x20 && b < 0x7f) || b == '\n' || b == '\t' {
			run = append(run, b)
		} else {
			flush()
		}
	}
	flush()
	return sb.String()
}

var reHexRun = regexp.MustCompile(`(?:[0-9A-Fa-f]{2}){16,}`)

// salvageHexDecode finds long hex-digit runs, decodes them, and keeps
// whatever printable text falls out.
func salvageHexDecode(data []byte) string {
	var sb strings.Builder
	for _, m := range reHexRun.FindAll(data, -1) {
		decoded, err := hex.DecodeString(string(m))
		if err != nil {
			continue
		}
		sb.WriteString(salvagePrintableASCII(decoded))
	}
	return sb.String()
}

var reParenString = regexp.MustCompile(`\(((?:\\.|[^\\()]){4,})\)`)

// salvageMarkerDelimited pulls substrings between well-known structural
// markers: parenthesized PDF string literals and BT/ET text blocks.
func salvageMarkerDelimited(data []byte) string {
	var sb strings.Builder

	for _, m := range reParenString.FindAllSubmatch(data, -1) {
		sb.WriteString(unescapePDFString(string(m[1])))
		sb.WriteByte(' ')
	}

	s := string(data)
	for {
		start := strings.Index(s, "BT")
		if start < 0 {
			break
		}
		end := strings.Index(s[start:], "ET")
		if end < 0 {
			break
		}
		block := s[start : start+end]
		sb.WriteString(decodeTextOperators([]byte(block)))
		sb.WriteByte(' ')
		s = s[start+end+2:]
	}

	return sb.String()
}
