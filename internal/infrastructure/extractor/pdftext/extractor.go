package pdftext

import (
	"bytes"
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/docflow/internal/core/domain"
)

// Extractor reads the text layer of PDF files. It implements ports.PDFTextExtractor.
type Extractor struct {
	maxBytes int
}

func NewExtractor(maxBytes int) *Extractor {
	if maxBytes <= 0 {
		maxBytes = 64 << 10
	}
	return &Extractor{maxBytes: maxBytes}
}

// ExtractText returns the plain text of all pages, truncated to maxBytes. A PDF
// without a text layer yields an empty string.
func (e *Extractor) ExtractText(ctx context.Context, data []byte) (text string, err error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, "extract pdf text", errors.New("empty file"))
	}

	// The parser panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = domain.WrapError(domain.ErrInvalidInput, "extract pdf text", errors.Newf("malformed pdf: %v", r))
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "open pdf", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", domain.WrapError(domain.ErrInvalidInput, "read pdf text", err)
	}

	raw, err := io.ReadAll(io.LimitReader(plain, int64(e.maxBytes)))
	if err != nil {
		return "", errors.Wrap(err, "read pdf text")
	}
	if !utf8.Valid(raw) {
		raw = bytes.ToValidUTF8(raw, []byte("�"))
	}
	return strings.TrimSpace(string(raw)), nil
}
