package core

import (
	"context"
)

// Extraction is the normalized text of a document and its page count.
type Extraction struct {
	Text      string
	PageCount int
}

// TextExtractor turns a raw document buffer into normalized text.
// The caller owns raw and may drop it as soon as ExtractText returns.
type TextExtractor interface {
	ExtractText(ctx context.Context, raw []byte) (*Extraction, error)
}
