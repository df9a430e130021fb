package discovery

import (
	"context"
	"strings"
)

// TextSource exposes the rendered text of the current document
type TextSource interface {
	BodyText(ctx context.Context) (string, error)
}

// IsComplete reads the body text once and reports whether marker is on the page.
// A failed read counts as "not yet".
func IsComplete(ctx context.Context, page TextSource, marker string) bool {
	text, err := page.BodyText(ctx)
	if err != nil {
		return false
	}
	return ContainsMarker(text, marker)
}

// ContainsMarker matches marker against text with all whitespace runs,
// non-breaking spaces included, collapsed to a single space.
func ContainsMarker(text, marker string) bool {
	marker = collapseSpace(marker)
	if marker == "" {
		return false
	}
	return strings.Contains(collapseSpace(text), marker)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
