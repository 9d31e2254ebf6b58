// SPDX-License-Identifier: Apache-2.0

package textextract

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// parserConfig is one attempt in the fallback chain. Strict runs first for
// low corruption scores; the relaxed configs are the alternate parses.
type parserConfig struct {
	label      string
	validation int
	maxPages   int
}

func strictParserConfig(maxPages int) parserConfig {
	return parserConfig{label: "strict", validation: model.ValidationStrict, maxPages: maxPages}
}

// alternateParserConfigs are retried in order after a strict parse fails
// validation. Page counts shrink with each retry so a damaged
// cross-reference table cannot send us walking garbage forever.
func alternateParserConfigs(maxPages int) []parserConfig {
	relaxedCap := maxPages
	if relaxedCap > 50 {
		relaxedCap = 50
	}
	return []parserConfig{
		{label: "relaxed", validation: model.ValidationRelaxed, maxPages: relaxedCap},
		{label: "relaxed-short", validation: model.ValidationRelaxed, maxPages: 10},
	}
}

// parsePDF extracts text from PDF content streams under the given parser
// configuration. pdfcpu is not total on hostile input, so the whole parse is
// fenced with recover and surfaced as an ordinary error.
func parsePDF(data []byte, cfg parserConfig) (text string, pages int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = cfg.validation

	ctx, err := pdfapi.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return "", 0, fmt.Errorf("read pdf (%s): %w", cfg.label, err)
	}

	pages = ctx.PageCount
	limit := pages
	if cfg.maxPages > 0 && limit > cfg.maxPages {
		limit = cfg.maxPages
	}

	var sb strings.Builder
	for pageNr := 1; pageNr <= limit; pageNr++ {
		r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
		if err != nil || r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		pageText := decodeTextOperators(raw)
		if pageText != "" {
			sb.WriteString(pageText)
			sb.WriteByte('\n')
		}
	}

	return sb.String(), pages, nil
}

var (
	// (string) Tj and (string) '  — literal string show operators.
	reLiteralShow = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)\s*(?:Tj|')`)
	// [ ... ] TJ — array show operator; literal strings inside.
	reArrayShow   = regexp.MustCompile(`\[((?:[^\[\]])*)\]\s*TJ`)
	reArrayString = regexp.MustCompile(`\(((?:\\.|[^\\()])*)\)`)
	// <hex> Tj
	reHexShow = regexp.MustCompile(`<([0-9A-Fa-f\s]+)>\s*Tj`)
)

// decodeTextOperators pulls the text-show operators (Tj, ', TJ) out of a
// decoded page content stream. Positioning and font operators are ignored;
// each show operation contributes its string payload.
func decodeTextOperators(content []byte) string {
	var sb strings.Builder

	for _, m := range reLiteralShow.FindAllSubmatch(content, -1) {
		sb.WriteString(unescapePDFString(string(m[1])))
		sb.WriteByte(' ')
	}

	for _, m := range reArrayShow.FindAllSubmatch(content, -1) {
		for _, sm := range reArrayString.FindAllSubmatch(m[1], -1) {
			sb.WriteString(unescapePDFString(string(sm[1])))
		}
		sb.WriteByte(' ')
	}

	for _, m := range reHexShow.FindAllSubmatch(content, -1) {
		sb.WriteString(decodeHexString(string(m[1])))
		sb.WriteByte(' ')
	}

	return strings.TrimSpace(sb.String())
}

// unescapePDFString resolves the escape sequences of a PDF literal string:
// \n \r \t \b \f \( \) \\ and up to three octal digits.
func unescapePDFString(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i == len(s)-1 {
			sb.WriteByte(c)
			continue
		}
		i++
		switch n := s[i]; n {
		case 'n':
			sb.WriteByte('\n')
		case 'r', 'b', 'f':
			// layout escapes carry no text
		case 't':
			sb.WriteByte('\t')
		case '(', ')', '\\':
			sb.WriteByte(n)
		default:
			if n >= '0' && n <= '7' {
				oct := string(n)
				for len(oct) < 3 && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '7' {
					i++
					oct += string(s[i])
				}
				if v, err := strconv.ParseUint(oct, 8, 16); err == nil && v < 256 {
					sb.WriteByte(byte(v))
				}
			} else {
				sb.WriteByte(n)
			}
		}
	}
	return sb.String()
}

func decodeHexString(s string) string {
	compact := strings.Join(strings.Fields(s), "")
	if len(compact)%2 == 1 {
		compact += "0"
	}
	var sb strings.Builder
	for i := 0; i+1 < len(compact); i += 2 {
		v, err := strconv.ParseUint(compact[i:i+2], 16, 8)
		if err != nil {
			continue
		}
		if v >= 0x20 && v < 0x7f {
			sb.WriteByte(byte(v))
		}
	}
	return sb.String()
}
