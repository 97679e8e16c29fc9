// Package convert turns raw document bytes into an ordered sequence of book
// sections. Conversion is deterministic and CPU-bound: no I/O beyond the
// bytes handed in, no external calls, safe to recompute at any time.
package convert

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"bookforge/internal/book"
)

// Conversion failure kinds. Converters wrap these so callers can classify
// with errors.Is.
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrMalformedDocument = errors.New("malformed document")
)

// Converter parses one document format into a heading tree.
type Converter interface {
	Parse(r io.Reader, title string) (*book.Tree, error)
}

// SupportedFormats lists the formats this service can convert.
var SupportedFormats = map[string]bool{
	"epub": true,
	"html": true,
	"md":   true,
	"txt":  true,
	"docx": true,
	"pdf":  true,
}

// ForFormat returns the converter for a declared format.
func ForFormat(format string) (Converter, error) {
	switch NormalizeFormat(format) {
	case "epub":
		return &EPUBConverter{}, nil
	case "html", "htm":
		return &HTMLConverter{}, nil
	case "md", "markdown":
		return &MarkdownConverter{}, nil
	case "txt", "text":
		return &TextConverter{}, nil
	case "docx":
		return &DOCXConverter{}, nil
	case "pdf":
		return &PDFConverter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// NormalizeFormat lower-cases a format name and strips a leading dot, so both
// "EPUB" and ".epub" resolve.
func NormalizeFormat(format string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(format)), ".")
}

// IsSupportedFormat checks whether a declared format can be converted.
func IsSupportedFormat(format string) bool {
	f := NormalizeFormat(format)
	if f == "htm" || f == "markdown" || f == "text" {
		return true
	}
	return SupportedFormats[f]
}

// Convert parses document bytes in the declared format and assembles the
// ordered section list. The fallback title is used when the document carries
// no title of its own.
func Convert(data []byte, format, title string) (*book.Book, error) {
	c, err := ForFormat(format)
	if err != nil {
		return nil, err
	}
	tree, err := c.Parse(bytes.NewReader(data), title)
	if err != nil {
		if errors.Is(err, ErrMalformedDocument) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return Assemble(tree), nil
}
