// SPDX-License-Identifier: Apache-2.0

package textextract

import (
	"regexp"
	"strings"
)

const (
	minTextLength     = 20
	minPrintableRatio = 0.85
	maxTopCharRatio   = 0.40
)

var reBase64Alphabet = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// validationResult labels why a candidate string was rejected; empty reason
// means the text passed.
type validationResult struct {
	ok     bool
	reason string
}

// validateText is the junk check every extraction strategy must pass: long
// enough, mostly printable, not dominated by a single character, and not a
// base64 blob masquerading as prose.
func validateText(s string) validationResult {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) < minTextLength {
		return validationResult{reason: "too short"}
	}

	if r := printableRuneRatio(trimmed); r < minPrintableRatio {
		return validationResult{reason: "printable ratio below threshold"}
	}

	if topCharRatio(trimmed) > maxTopCharRatio {
		return validationResult{reason: "dominated by repeated characters"}
	}

	if isBase64Shaped(trimmed) {
		return validationResult{reason: "base64-shaped content"}
	}

	return validationResult{ok: true}
}

func printableRuneRatio(s string) float64 {
	if s == "" {
		return 0
	}
	total, printable := 0, 0
	for _, r := range s {
		total++
		if r == '\n' || r == '\t' || (r >= 0x20 && r != 0x7f && r != 0xfffd) {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func topCharRatio(s string) float64 {
	counts := map[rune]int{}
	total := 0
	for _, r := range s {
		if r == ' ' || r == '\n' || r == '\t' {
			continue
		}
		counts[r]++
		total++
	}
	if total == 0 {
		return 1
	}
	top := 0
	for _, c := range counts {
		if c > top {
			top = c
		}
	}
	return float64(top) / float64(total)
}

// isBase64Shaped flags text that is one long run of base64 alphabet with the
// character-class mix real encoded data has. Prose with spaces never matches.
func isBase64Shaped(s string) bool {
	compact := strings.Join(strings.Fields(s), "")
	if len(compact) < 64 {
		return false
	}
	if !reBase64Alphabet.MatchString(compact) {
		return false
	}

	var upper, lower, digit int
	for _, r := range compact {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
		case r >= 'a' && r <= 'z':
			lower++
		case r >= '0' && r <= '9':
			digit++
		}
	}
	// Encoded data mixes all three classes; plain words do not.
	return upper > 0 && lower > 0 && digit > 0 &&
		float64(digit)/float64(len(compact)) > 0.05
}
