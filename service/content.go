// ABOUTME: This file holds shared text cleaning helpers
// ABOUTME: Tag stripping and rune-safe truncation for Japanese article bodies
package service

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// PreviewLength is the persisted preview size in runes.
const PreviewLength = 200

// evaluationContentLimit caps the body text sent to the LLM, in runes.
const evaluationContentLimit = 4000

var tagStripper = bluemonday.StrictPolicy()

// stripTags removes all markup, resolves entities and collapses whitespace.
func stripTags(raw string) string {
	text := tagStripper.Sanitize(raw)
	text = html.UnescapeString(text)
	return collapseWhitespace(text)
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts at a rune boundary so multibyte text never splits.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
