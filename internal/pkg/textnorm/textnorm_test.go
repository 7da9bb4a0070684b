package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanEmpty(t *testing.T) {
	assert.Equal(t, "", Clean(""))
	assert.Equal(t, "", Clean("  \n\t\n  "))
}

func TestCleanStripsHeaderBlock(t *testing.T) {
	input := "FOR TENDER PURPOSE ONLY\nPage 3 OF 120\nScope of supply includes pumps."
	got := Clean(input)

	assert.NotContains(t, got, "FOR TENDER PURPOSE")
	assert.Contains(t, got, "Scope of supply includes pumps.")
}

func TestCleanStripsHeaderCaseInsensitive(t *testing.T) {
	input := "for tender purpose only\n1 of 10\nBody text."
	got := Clean(input)

	assert.Equal(t, "Body text.", got)
}

func TestCleanStripsStandalonePageMarkers(t *testing.T) {
	input := "Technical requirements follow.\n12 OF 87\nThe vendor shall comply."
	got := Clean(input)

	assert.NotContains(t, got, "12 OF 87")
	assert.Contains(t, got, "Technical requirements follow.")
	assert.Contains(t, got, "The vendor shall comply.")
}

func TestCleanKeepsInlineOfPhrases(t *testing.T) {
	input := "Delivery of 10 units is required."
	assert.Equal(t, input, Clean(input))
}

func TestCleanCollapsesBlankRuns(t *testing.T) {
	input := "First paragraph.\n\n\n\n\nSecond paragraph."
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", Clean(input))
}

func TestCleanTrimsTrailingWhitespacePerLine(t *testing.T) {
	input := "Line one.   \nLine two.\t\t"
	assert.Equal(t, "Line one.\nLine two.", Clean(input))
}

func TestCleanDeterministic(t *testing.T) {
	input := "FOR TENDER PURPOSE ONLY\n2 OF 5\n\n\n\nContent  \n3 OF 5\n"
	first := Clean(input)
	second := Clean(first)

	assert.Equal(t, first, second)
}
