package correlation

import (
	"slices"
	"strings"

	"staycheck/internal/extract"
)

const (
	// MoreDetailsSeparator starts the trailing block of secondary card details.
	MoreDetailsSeparator = "·"
	// FreeCancellation is rendered twice by some card layouts.
	FreeCancellation = "Free cancellation"
)

// Normalizer turns the visible text of a listing card or pin popup into the ordered
// sequence compared by Equivalent.
type Normalizer struct {
	// Separator starts a trailing block that is dropped.
	Separator string
	// Marker is collapsed to its first occurrence.
	Marker string
}

// DefaultNormalizer matches the booking site's card layout.
var DefaultNormalizer = Normalizer{Separator: MoreDetailsSeparator, Marker: FreeCancellation}

// Details normalizes text. trimAfterRating drops everything after the first rating line,
// for views that render unrelated content below it.
func (n Normalizer) Details(text string, trimAfterRating bool) []string {
	relevant := text
	if n.Separator != "" {
		relevant, _, _ = strings.Cut(text, n.Separator)
	}
	lines := strings.Split(strings.TrimSpace(relevant), "\n")
	lines = CollapseRepeated(lines, n.Marker)

	// The rating is read from the full text since it may sit past the separator.
	if r, ok := extract.RatingSummary(text); ok {
		lines = append(lines, r.Text)
	}
	if trimAfterRating {
		lines = truncateAfterFirstRating(lines)
	}
	return lines
}

// Equivalent compares two detail sequences in order. Both sides come from the same
// canonical field ordering, so order matters.
func (n Normalizer) Equivalent(a, b []string) bool {
	return slices.Equal(CollapseRepeated(a, n.Marker), CollapseRepeated(b, n.Marker))
}

// Details is DefaultNormalizer.Details.
func Details(text string, trimAfterRating bool) []string {
	return DefaultNormalizer.Details(text, trimAfterRating)
}

// DetailsEquivalent is DefaultNormalizer.Equivalent.
func DetailsEquivalent(a, b []string) bool {
	return DefaultNormalizer.Equivalent(a, b)
}

// CollapseRepeated keeps only the first line equal (case-insensitively) to marker.
func CollapseRepeated(lines []string, marker string) []string {
	if marker == "" {
		return lines
	}
	out := make([]string, 0, len(lines))
	seen := false
	for _, line := range lines {
		if strings.EqualFold(line, marker) {
			if seen {
				continue
			}
			seen = true
		}
		out = append(out, line)
	}
	return out
}

func truncateAfterFirstRating(lines []string) []string {
	for i, line := range lines {
		if extract.IsRating(line) {
			return lines[:i+1]
		}
	}
	return lines
}
