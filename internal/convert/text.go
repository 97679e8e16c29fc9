package convert

import (
	"bufio"
	"io"
	"strings"

	"bookforge/internal/book"
)

// TextConverter handles plain text documents.
type TextConverter struct{}

func (c *TextConverter) Parse(r io.Reader, title string) (*book.Tree, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var paragraphs []string
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			if current.Len() > 0 {
				paragraphs = append(paragraphs, current.String())
				current.Reset()
			}
		} else {
			if current.Len() > 0 {
				current.WriteString("\n")
			}
			current.WriteString(line)
		}
	}
	if current.Len() > 0 {
		paragraphs = append(paragraphs, current.String())
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	tree := &book.Tree{Title: title}

	// Each paragraph becomes a child node.
	for _, para := range paragraphs {
		tree.Children = append(tree.Children, &book.Node{
			Text: para,
		})
	}

	return tree, nil
}
