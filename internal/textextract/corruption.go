// SPDX-License-Identifier: Apache-2.0

package textextract

import (
	"bytes"
	"strings"
)

// Corruption score weights. The total is clamped to [0, 10]; strategy
// selection buckets on the clamped value.
const (
	weightMissingHeader = 3
	weightMissingEOF    = 1
	weightObjMismatch   = 2
	maxCorruptionScore  = 10
)

var pdfHeader = []byte("%PDF-")
var pdfEOF = []byte("%%EOF")

// CorruptionScore rates raw-byte damage on a 0-10 scale before any parsing.
// It accumulates fixed weights for missing structural markers, non-printable
// byte ratio, repeated-byte runs, and mismatched object markers. The run
// component counts total bytes spent in long runs rather than the single
// longest run, so a stray byte splitting a run does not discount it.
func CorruptionScore(data []byte, mimeType string) int {
	if len(data) == 0 {
		return maxCorruptionScore
	}

	score := 0

	// Structural markers only make sense for container formats. Text
	// payloads have no header to miss.
	if !strings.HasPrefix(mimeType, "text/") && !strings.HasPrefix(mimeType, "image/") {
		if !bytes.HasPrefix(data, pdfHeader) {
			score += weightMissingHeader
		}
		if !bytes.Contains(data, pdfEOF) {
			score += weightMissingEOF
		}
		objs := bytes.Count(data, []byte(" obj"))
		endobjs := bytes.Count(data, []byte("endobj"))
		if objs != endobjs {
			score += weightObjMismatch
		}
	}

	score += nonPrintableWeight(data)
	score += repeatedRunWeight(data)

	if score > maxCorruptionScore {
		score = maxCorruptionScore
	}
	return score
}

// nonPrintableWeight maps the non-printable byte ratio onto 0..5 through a
// non-decreasing step function.
func nonPrintableWeight(data []byte) int {
	ratio := 1 - printableByteRatio(data)
	switch {
	case ratio < 0.05:
		return 0
	case ratio < 0.15:
		return 1
	case ratio < 0.30:
		return 2
	case ratio < 0.45:
		return 3
	case ratio < 0.60:
		return 4
	default:
		return 5
	}
}

func repeatedRunWeight(data []byte) int {
	mass := repeatedRunMass(data)
	switch {
	case mass >= 512:
		return 2
	case mass >= 64:
		return 1
	default:
		return 0
	}
}

func printableByteRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	printable := 0
	for _, b := range data {
		if (b >= 0x20 && b < 0x7f) || b == '\n' || b == '\r' || b == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(len(data))
}

// repeatedRunMass sums the lengths of all runs of at least minCountedRun
// identical bytes. Summing keeps the weight stable when damage lands inside
// a run and splits it.
func repeatedRunMass(data []byte) int {
	const minCountedRun = 16

	mass, run := 0, 0
	var prev byte
	for i, b := range data {
		if i > 0 && b == prev {
			run++
		} else {
			if run >= minCountedRun {
				mass += run
			}
			run = 1
		}
		prev = b
	}
	if run >= minCountedRun {
		mass += run
	}
	return mass
}
