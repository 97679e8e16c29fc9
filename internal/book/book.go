package book

import (
	"fmt"
	"strings"
)

// Book is the structured representation of one converted document.
type Book struct {
	Title    string    `json:"title"`
	Sections []Section `json:"sections"`
}

// Section is one ordered unit of the converted document. Index and Content
// are fixed once conversion completes; enrichment results attach alongside
// without touching the original text.
type Section struct {
	Index   int    `json:"index"`
	Number  string `json:"number"` // hierarchical, e.g. "1.2."
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
	Plan    string `json:"plan,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Enriched reports whether both enrichment results are attached.
func (s Section) Enriched() bool {
	return s.Plan != "" && s.Summary != ""
}

// Depth returns the nesting depth implied by the section number:
// "1." is depth 1, "1.2." is depth 2. An empty number reports 0.
func (s Section) Depth() int {
	return strings.Count(s.Number, ".")
}

// TOC renders an indented markdown table of contents in reading order.
func (b *Book) TOC() string {
	var sb strings.Builder
	for _, s := range b.Sections {
		title := s.Title
		if title == "" {
			continue
		}
		indent := s.Depth() - 1
		if indent < 0 {
			indent = 0
		}
		fmt.Fprintf(&sb, "%s%s %s  \n", strings.Repeat("  ", indent), s.Number, title)
	}
	return sb.String()
}

// Tree is the root of a parsed document before section assembly.
type Tree struct {
	Title    string  // Document title (from metadata or filename)
	Children []*Node // Top-level sections
}

// Node is a recursive heading-level unit produced by the converters.
type Node struct {
	Title    string  // Section heading (empty for leaf text)
	Text     string  // Text content of this node (may be empty for container nodes)
	Children []*Node // Subsections
}
