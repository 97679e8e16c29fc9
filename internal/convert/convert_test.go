package convert

import (
	"errors"
	"testing"

	"bookforge/internal/book"
)

func TestNormalizeFormat(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"EPUB", "epub"},
		{".epub", "epub"},
		{" md ", "md"},
		{".Markdown", "markdown"},
		{"txt", "txt"},
	}
	for _, tt := range tests {
		if got := NormalizeFormat(tt.in); got != tt.want {
			t.Errorf("NormalizeFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsSupportedFormat(t *testing.T) {
	for _, f := range []string{"epub", ".epub", "html", "htm", "md", "markdown", "txt", "text", "docx", "pdf", "MD"} {
		if !IsSupportedFormat(f) {
			t.Errorf("expected %q to be supported", f)
		}
	}
	for _, f := range []string{"", "exe", "doc", "rtf"} {
		if IsSupportedFormat(f) {
			t.Errorf("expected %q to be unsupported", f)
		}
	}
}

func TestConvert_UnsupportedFormat(t *testing.T) {
	_, err := Convert([]byte("data"), "exe", "title")
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestConvert_MalformedDocument(t *testing.T) {
	_, err := Convert([]byte("this is not a zip"), "epub", "title")
	if !errors.Is(err, ErrMalformedDocument) {
		t.Errorf("expected ErrMalformedDocument, got %v", err)
	}
}

func TestConvert_Deterministic(t *testing.T) {
	data := []byte("# One\n\nalpha\n\n## Two\n\nbeta\n")
	a, err := Convert(data, "md", "doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Convert(data, "md", "doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Sections) != len(b.Sections) {
		t.Fatalf("section counts differ: %d vs %d", len(a.Sections), len(b.Sections))
	}
	for i := range a.Sections {
		if a.Sections[i] != b.Sections[i] {
			t.Errorf("section %d differs between identical conversions", i)
		}
	}
}

func TestAssemble_Numbering(t *testing.T) {
	tree := &book.Tree{
		Title: "Guide",
		Children: []*book.Node{
			{
				Title: "Intro",
				Text:  "intro body",
				Children: []*book.Node{
					{Title: "Background", Text: "bg"},
					{Title: "Scope", Text: "scope"},
				},
			},
			{Title: "Usage", Text: "usage body"},
		},
	}
	b := Assemble(tree)
	if b.Title != "Guide" {
		t.Errorf("expected title %q, got %q", "Guide", b.Title)
	}

	want := []struct {
		number string
		title  string
	}{
		{"1.", "Intro"},
		{"1.1.", "Background"},
		{"1.2.", "Scope"},
		{"2.", "Usage"},
	}
	if len(b.Sections) != len(want) {
		t.Fatalf("expected %d sections, got %d", len(want), len(b.Sections))
	}
	for i, w := range want {
		s := b.Sections[i]
		if s.Index != i {
			t.Errorf("section %d: expected index %d, got %d", i, i, s.Index)
		}
		if s.Number != w.number {
			t.Errorf("section %d: expected number %q, got %q", i, w.number, s.Number)
		}
		if s.Title != w.title {
			t.Errorf("section %d: expected title %q, got %q", i, w.title, s.Title)
		}
	}
}

func TestAssemble_SkipsEmptyNodes(t *testing.T) {
	tree := &book.Tree{
		Children: []*book.Node{
			{Title: "", Text: "   "},
			{Title: "Real", Text: "content"},
		},
	}
	b := Assemble(tree)
	if len(b.Sections) != 1 {
		t.Fatalf("expected 1 section, got %d", len(b.Sections))
	}
	if b.Sections[0].Number != "1." {
		t.Errorf("numbering should skip dropped nodes, got %q", b.Sections[0].Number)
	}
}
