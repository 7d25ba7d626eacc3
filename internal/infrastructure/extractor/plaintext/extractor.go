// Package plaintext extracts pre-converted UTF-8 text documents whose pages are
// separated by form feeds.
package plaintext

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

const PageSeparator = "\f"

type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, source []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !utf8.Valid(source) {
		return nil, domain.WrapError(domain.ErrExtraction, "decode text", errors.New("source is not valid UTF-8"))
	}
	return SplitPages(string(source)), nil
}

// SplitPages splits on form feeds. A trailing separator closes the final page rather than
// opening an empty one, and an empty document has no pages.
func SplitPages(text string) []string {
	if text == "" {
		return []string{}
	}
	pages := strings.Split(text, PageSeparator)
	if len(pages) > 1 && pages[len(pages)-1] == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}
