// Package textproc cleans raw input text and computes the word statistics
// reported alongside every summary.
package textproc

import (
	"regexp"
	"strings"
)

// DefaultTruncateLength is the character budget used when callers have no
// better value.
const DefaultTruncateLength = 1024

// sentenceBoundaryRatio is the fraction of the budget a sentence cut must
// keep; anything shorter falls back to the raw cut.
const sentenceBoundaryRatio = 0.7

var (
	whitespaceRegex = regexp.MustCompile(`\s+`)
	urlRegex        = regexp.MustCompile(`[A-Za-z][A-Za-z0-9+.\-]*://\S+`)
	emailRegex      = regexp.MustCompile(`\S+@\S+`)
)

// Clean strips URLs and email-like tokens from text and collapses every run
// of whitespace into a single space. Removal happens before collapsing so
// the gaps left behind are normalized too, which keeps Clean idempotent.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	text = urlRegex.ReplaceAllString(text, "")
	text = emailRegex.ReplaceAllString(text, "")
	text = whitespaceRegex.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}

// WordCount returns the number of whitespace separated tokens in text.
func WordCount(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

// CompressionRatio returns the fraction of words removed by summarization,
// 1 - words(summary)/words(original). Only an original with no words gives
// 0; an empty summary of a non-empty original removed every word and gives
// 1. The value is not clamped: a summary longer than its original gives a
// negative ratio.
func CompressionRatio(original, summary string) float64 {
	originalWords := WordCount(original)
	if originalWords == 0 {
		return 0
	}

	return 1 - float64(WordCount(summary))/float64(originalWords)
}

// Truncate shortens text to at most maxLength characters. When the cut
// contains a period at or beyond 70% of maxLength the result ends on that
// period; otherwise the raw character cut is returned.
func Truncate(text string, maxLength int) string {
	if maxLength < 0 {
		maxLength = 0
	}

	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}

	cut := runes[:maxLength]
	lastPeriod := -1
	for i := len(cut) - 1; i >= 0; i-- {
		if cut[i] == '.' {
			lastPeriod = i
			break
		}
	}

	if lastPeriod >= 0 && float64(lastPeriod) >= float64(maxLength)*sentenceBoundaryRatio {
		return string(cut[:lastPeriod+1])
	}

	return string(cut)
}
