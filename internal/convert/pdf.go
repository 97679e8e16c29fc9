package convert

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	pdflib "github.com/ledongthuc/pdf"

	"bookforge/internal/book"
)

// PDFConverter handles PDF documents. PDFs carry no reliable heading
// structure, so page boundaries stand in for section boundaries.
type PDFConverter struct{}

func (c *PDFConverter) Parse(r io.Reader, title string) (*book.Tree, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("parse pdf: %w", err)
	}

	tree := &book.Tree{Title: title}

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		tree.Children = append(tree.Children, &book.Node{
			Title: fmt.Sprintf("Page %d", i),
			Text:  text,
		})
	}

	return tree, nil
}
