// SPDX-License-Identifier: Apache-2.0

package textextract

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	reWhitespace   = regexp.MustCompile(`[ \t]+`)
	reBlankLines   = regexp.MustCompile(`\n{3,}`)
	reEllipsisRuns = regexp.MustCompile(`\.{4,}`)
)

// Clean normalizes extracted text: control characters are stripped,
// whitespace collapsed, long repeated-character runs truncated, and
// ellipsis runs capped at three dots.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r == unicode.ReplacementChar:
			// drop decode artifacts
		case unicode.IsControl(r):
			// drop
		default:
			b.WriteRune(r)
		}
	}

	out := b.String()
	out = reWhitespace.ReplaceAllString(out, " ")
	out = collapseCharRuns(out)
	out = reEllipsisRuns.ReplaceAllString(out, "...")
	out = reBlankLines.ReplaceAllString(out, "\n\n")

	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// collapseCharRuns truncates runs of ten or more identical characters to
// three. Whitespace and digits are exempt: long digit runs are real data,
// not parser garbage.
func collapseCharRuns(s string) string {
	const runLimit = 10

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(runes); {
		r := runes[i]
		j := i + 1
		for j < len(runes) && runes[j] == r {
			j++
		}

		n := j - i
		if n >= runLimit && !unicode.IsSpace(r) && !unicode.IsDigit(r) {
			n = 3
		}
		for k := 0; k < n; k++ {
			b.WriteRune(r)
		}
		i = j
	}
	return b.String()
}
