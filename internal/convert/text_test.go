package convert

import (
	"strings"
	"testing"
)

func TestTextConverter_Paragraphs(t *testing.T) {
	input := "First paragraph\nstill first.\n\nSecond paragraph.\n\n\nThird paragraph.\n"

	c := &TextConverter{}
	tree, err := c.Parse(strings.NewReader(input), "notes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if tree.Title != "notes" {
		t.Errorf("expected title %q, got %q", "notes", tree.Title)
	}
	if len(tree.Children) != 3 {
		t.Fatalf("expected 3 paragraphs, got %d", len(tree.Children))
	}
	if !strings.Contains(tree.Children[0].Text, "still first.") {
		t.Errorf("multi-line paragraph should stay together, got %q", tree.Children[0].Text)
	}
	if tree.Children[1].Text != "Second paragraph." {
		t.Errorf("expected %q, got %q", "Second paragraph.", tree.Children[1].Text)
	}
}

func TestTextConverter_Empty(t *testing.T) {
	c := &TextConverter{}
	tree, err := c.Parse(strings.NewReader("   \n\n  \n"), "blank")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tree.Children) != 0 {
		t.Errorf("whitespace-only input should produce 0 paragraphs, got %d", len(tree.Children))
	}
}
