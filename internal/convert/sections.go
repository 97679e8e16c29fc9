package convert

import (
	"fmt"
	"strings"

	"bookforge/internal/book"
)

// Assemble flattens a heading tree into the ordered section list. Sections
// appear in reading order; each gets a hierarchical number ("1.", "1.2.", …)
// reflecting its position in the tree. Nodes with neither title, text, nor
// children are dropped.
func Assemble(tree *book.Tree) *book.Book {
	b := &book.Book{Title: tree.Title}
	appendSections(b, tree.Children, "")
	return b
}

func appendSections(b *book.Book, nodes []*book.Node, prefix string) {
	n := 0
	for _, node := range nodes {
		if node.Title == "" && strings.TrimSpace(node.Text) == "" && len(node.Children) == 0 {
			continue
		}
		n++
		number := fmt.Sprintf("%s%d.", prefix, n)
		b.Sections = append(b.Sections, book.Section{
			Index:   len(b.Sections),
			Number:  number,
			Title:   node.Title,
			Content: node.Text,
		})
		appendSections(b, node.Children, number)
	}
}
