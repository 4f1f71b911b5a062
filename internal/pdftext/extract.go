// ABOUTME: Plain-text extraction from uploaded PDF documents
// ABOUTME: Enforces an upload size limit before parsing

package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxBytes is the largest PDF accepted: 10 MiB.
const DefaultMaxBytes = 10 << 20

var (
	// ErrTooLarge indicates the document exceeds the size limit.
	ErrTooLarge = errors.New("PDF exceeds the size limit")

	// ErrNoText indicates the document parsed but contained no extractable text.
	ErrNoText = errors.New("PDF contains no extractable text")

	// ErrInvalid indicates the data is not a readable PDF.
	ErrInvalid = errors.New("invalid PDF")
)

// Extractor pulls text out of PDFs no larger than MaxBytes.
type Extractor struct {
	MaxBytes int64
}

// New creates an Extractor. A non-positive limit means DefaultMaxBytes.
func New(maxBytes int64) *Extractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Extractor{MaxBytes: maxBytes}
}

// Extract returns the document's text with surrounding whitespace trimmed.
func (e *Extractor) Extract(data []byte) (text string, err error) {
	if int64(len(data)) > e.MaxBytes {
		return "", fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), e.MaxBytes)
	}

	// the parser panics on some malformed inputs
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrInvalid, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading text: %w", err)
	}

	text = strings.TrimSpace(buf.String())
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}
