package pdfparser

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
)

// noContents marks a page built without a /Contents entry.
const noContents = "\x00"

// buildPDF assembles a minimal single-font document with one content stream per page.
func buildPDF(pageTexts ...string) []byte {
	n := len(pageTexts)
	fontObj := 3 + 2*n
	var objects []string
	objects = append(objects, "<< /Type /Catalog /Pages 2 0 R >>")

	kids := make([]string, n)
	for i := range pageTexts {
		kids[i] = fmt.Sprintf("%d 0 R", 3+2*i)
	}
	objects = append(objects, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))

	for i, text := range pageTexts {
		contents := fmt.Sprintf(" /Contents %d 0 R", 4+2*i)
		if text == noContents {
			contents = ""
		}
		objects = append(objects, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 %d 0 R >> >>%s >>",
			fontObj, contents))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 712 Td (%s) Tj ET", text)
		objects = append(objects, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}
	objects = append(objects, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestExtractOneEntryPerPage(t *testing.T) {
	pages, err := NewExtractor().Extract(context.Background(), buildPDF("Inspection", "Violations"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d: %q", len(pages), pages)
	}
	if !strings.Contains(pages[0], "Inspection") || !strings.Contains(pages[1], "Violations") {
		t.Fatalf("unexpected page text %q", pages)
	}
}

func TestExtractPageWithoutContents(t *testing.T) {
	pages, err := NewExtractor().Extract(context.Background(), buildPDF("Cover", noContents, "Findings"))
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d: %q", len(pages), pages)
	}
	if pages[1] != "" {
		t.Fatalf("expected empty middle page, got %q", pages[1])
	}
	if !strings.Contains(pages[0], "Cover") || !strings.Contains(pages[2], "Findings") {
		t.Fatalf("unexpected page text %q", pages)
	}
}

func TestExtractMalformedInput(t *testing.T) {
	for _, input := range [][]byte{nil, []byte("not a pdf at all"), []byte("%PDF-1.4\ngarbage")} {
		if _, err := NewExtractor().Extract(context.Background(), input); !domain.IsKind(err, domain.ErrExtraction) {
			t.Fatalf("Extract(%q) expected extraction error, got %v", input, err)
		}
	}
}
