package ingestion_engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"code.sajari.com/docconv"
	"github.com/markdave123-py/docpipe/internal/core"
)

var _ core.TextExtractor = (*DocconvExtractor)(nil)

var (
	pdfMagic     = []byte("%PDF-")
	inlineSpace  = regexp.MustCompile(`[^\S\n]+`)
	lineEdges    = regexp.MustCompile(` ?\n ?`)
	blankLines   = regexp.MustCompile(`\n\s*\n+`)
	pageObject   = regexp.MustCompile(`/Type\s*/Page[^s]`)
	errEmptyText = errors.New("no extractable text")
)

// DocconvExtractor implements core.TextExtractor for PDFs using sajari/docconv.
type DocconvExtractor struct {
	useReadability bool
}

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// ExtractText converts a PDF buffer into normalized text and its page count.
// The caller owns raw and may drop it as soon as this returns.
func (e *DocconvExtractor) ExtractText(ctx context.Context, raw []byte) (*core.Extraction, error) {
	const op = "extract.pdf"

	if !bytes.HasPrefix(raw, pdfMagic) {
		return nil, core.E(core.KindExtraction, op, errors.New("input is not a PDF document"))
	}
	if err := ctx.Err(); err != nil {
		return nil, core.E(core.KindInterrupted, op, err)
	}

	res, err := docconv.Convert(bytes.NewReader(raw), "application/pdf", e.useReadability)
	if err != nil {
		return nil, core.E(core.KindExtraction, op, fmt.Errorf("docconv: %w", err))
	}

	text := NormalizeText(res.Body)
	if text == "" {
		return nil, core.E(core.KindExtraction, op, errEmptyText)
	}

	return &core.Extraction{
		Text:      text,
		PageCount: pageCount(res.Meta, raw),
	}, nil
}

// NormalizeText collapses runs of spaces and tabs into one space and runs of
// blank lines into a single newline, then trims the result.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = inlineSpace.ReplaceAllString(s, " ")
	s = lineEdges.ReplaceAllString(s, "\n")
	s = blankLines.ReplaceAllString(s, "\n")
	return strings.TrimSpace(s)
}

// pageCount prefers the pdfinfo page count reported by docconv and falls back
// to counting page objects in the raw file.
func pageCount(meta map[string]string, raw []byte) int {
	if v, ok := meta["Pages"]; ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return len(pageObject.FindAllIndex(raw, -1))
}
