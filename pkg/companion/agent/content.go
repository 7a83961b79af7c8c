package agent

import "strings"

// Content is the text payload of a conversation item. Runtimes deliver
// either a flat string or a list of fragments; both normalize to one flat
// string.
type Content interface {
	// Normalize returns the flat text form of the content.
	Normalize() string
}

// TextContent is a flat text payload.
type TextContent string

// Normalize implements Content.
func (c TextContent) Normalize() string { return strings.TrimSpace(string(c)) }

// FragmentsContent is a list of text fragments. Fragments without
// extractable text are dropped; the rest join with single spaces.
type FragmentsContent []string

// Normalize implements Content.
func (c FragmentsContent) Normalize() string {
	parts := make([]string, 0, len(c))
	for _, f := range c {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		parts = append(parts, f)
	}
	return strings.Join(parts, " ")
}
