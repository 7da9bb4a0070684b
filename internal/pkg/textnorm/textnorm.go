// Package textnorm cleans raw page text extracted from tender PDFs before
// it is chunked, embedded, or fed to the extraction prompts.
package textnorm

import (
	"regexp"
	"strings"
)

var (
	// Repeated tender header blocks, e.g. "FOR TENDER PURPOSE ONLY\nPage 3 OF 120".
	headerPattern = regexp.MustCompile(`(?im)FOR TENDER PURPOSE[^\n]*\n[^\n]*OF\s*\d+`)

	// Standalone page markers such as "12 OF 87".
	pageMarkerPattern = regexp.MustCompile(`(?im)^\s*\d+\s*OF\s*\d+\s*$`)

	// Three or more consecutive newlines collapse to a paragraph break.
	blankRunPattern = regexp.MustCompile(`\n{3,}`)
)

// Clean strips repeated headers/footers and collapses whitespace. It is
// deterministic and safe on empty input.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	text = headerPattern.ReplaceAllString(text, "")
	text = pageMarkerPattern.ReplaceAllString(text, "")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
