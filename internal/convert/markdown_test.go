package convert

import (
	"strings"
	"testing"
)

func TestMarkdownConverter_HeadingHierarchy(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.

## Section B

Section B content.
`
	c := &MarkdownConverter{}
	tree, err := c.Parse(strings.NewReader(input), "doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tree.Children) != 1 {
		t.Fatalf("expected 1 top-level child (h1), got %d", len(tree.Children))
	}

	h1 := tree.Children[0]
	if h1.Title != "Title" {
		t.Errorf("expected h1 title %q, got %q", "Title", h1.Title)
	}
	if !strings.Contains(h1.Text, "Intro text.") {
		t.Errorf("expected h1 text to contain %q, got %q", "Intro text.", h1.Text)
	}

	if len(h1.Children) != 2 {
		t.Fatalf("expected 2 h2 children, got %d", len(h1.Children))
	}

	secA := h1.Children[0]
	if secA.Title != "Section A" {
		t.Errorf("expected %q, got %q", "Section A", secA.Title)
	}
	if len(secA.Children) != 1 || secA.Children[0].Title != "Subsection A1" {
		t.Errorf("expected one h3 child %q under Section A", "Subsection A1")
	}

	if h1.Children[1].Title != "Section B" {
		t.Errorf("expected %q, got %q", "Section B", h1.Children[1].Title)
	}
}

func TestMarkdownConverter_NoHeadings(t *testing.T) {
	input := `Just some plain text.

Another paragraph here.`

	c := &MarkdownConverter{}
	tree, err := c.Parse(strings.NewReader(input), "plain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tree.Children) != 1 {
		t.Fatalf("expected 1 child for headingless markdown, got %d", len(tree.Children))
	}
	text := tree.Children[0].Text
	if !strings.Contains(text, "Just some plain text.") || !strings.Contains(text, "Another paragraph here.") {
		t.Errorf("expected both paragraphs collected, got %q", text)
	}
}

func TestMarkdownConverter_SkippedHeadingLevels(t *testing.T) {
	input := "# Top\n\n### Deep\n\ndeep body\n\n## Middle\n\nmiddle body\n"

	c := &MarkdownConverter{}
	tree, err := c.Parse(strings.NewReader(input), "doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(tree.Children) != 1 {
		t.Fatalf("expected 1 top-level child, got %d", len(tree.Children))
	}
	top := tree.Children[0]
	// h3 nests under h1 when h2 is skipped; the later h2 pops back to h1.
	if len(top.Children) != 2 {
		t.Fatalf("expected 2 children under Top, got %d", len(top.Children))
	}
	if top.Children[0].Title != "Deep" {
		t.Errorf("expected first child %q, got %q", "Deep", top.Children[0].Title)
	}
	if top.Children[1].Title != "Middle" {
		t.Errorf("expected second child %q, got %q", "Middle", top.Children[1].Title)
	}
}

func TestMarkdownConverter_ParagraphTextExact(t *testing.T) {
	c := &MarkdownConverter{}
	tree, err := c.Parse(strings.NewReader("# One\n\nalpha\n"), "doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(tree.Children))
	}
	// Exact match: paragraph content must come through once, not doubled.
	if got := tree.Children[0].Text; got != "alpha" {
		t.Errorf("expected text %q, got %q", "alpha", got)
	}

	tree, err = c.Parse(strings.NewReader("# T\n\nfirst para\n\nsecond para\n"), "doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tree.Children[0].Text; got != "first para\n\nsecond para" {
		t.Errorf("expected both paragraphs once, got %q", got)
	}
}

func TestMarkdownConverter_CodeBlockTextExact(t *testing.T) {
	c := &MarkdownConverter{}
	tree, err := c.Parse(strings.NewReader("# T\n\n```\ncode line\n```\n"), "doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tree.Children[0].Text; got != "code line" {
		t.Errorf("expected code block content once, got %q", got)
	}
}

func TestMarkdownConverter_EmptyInput(t *testing.T) {
	c := &MarkdownConverter{}
	tree, err := c.Parse(strings.NewReader(""), "empty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Children) != 0 {
		t.Errorf("expected 0 children for empty input, got %d", len(tree.Children))
	}
}
