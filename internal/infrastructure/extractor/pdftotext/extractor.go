// Package pdftotext extracts text by shelling out to poppler's pdftotext.
package pdftotext

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/filings-corpus/internal/core/domain"
	"github.com/kirillkom/filings-corpus/internal/infrastructure/extractor/plaintext"
)

const DefaultBinary = "pdftotext"

type Extractor struct {
	binary string
	runner Runner
	tmpDir string
}

func NewExtractor(binary string, runner Runner) *Extractor {
	if strings.TrimSpace(binary) == "" {
		binary = DefaultBinary
	}
	if runner == nil {
		runner = NewExecRunner(nil)
	}
	return &Extractor{binary: binary, runner: runner}
}

func (e *Extractor) Extract(ctx context.Context, source []byte) ([]string, error) {
	f, err := os.CreateTemp(e.tmpDir, "corpus-*.pdf")
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "stage pdf", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(source); err != nil {
		f.Close()
		return nil, domain.WrapError(domain.ErrTemporary, "stage pdf", err)
	}
	if err := f.Close(); err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "stage pdf", err)
	}

	out, stderr, err := e.runner.Run(ctx, e.binary, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrTemporary, "run pdftotext", err)
		}
		return nil, domain.WrapError(domain.ErrExtraction, "run pdftotext", fmt.Errorf("%w: %s", err, strings.TrimSpace(string(stderr))))
	}
	if !utf8.Valid(out) {
		return nil, domain.WrapError(domain.ErrExtraction, "run pdftotext", errors.New("output is not valid UTF-8"))
	}
	return plaintext.SplitPages(string(out)), nil
}
