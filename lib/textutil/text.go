package textutil

import (
	"regexp"
	"strings"
)

var (
	whitespace = regexp.MustCompile(`\s+`)
)

func CompactWhitespace(s string) string {
	s = whitespace.ReplaceAllString(s, " ")
	s = strings.Trim(s, " ")
	return s
}

// NormalizeText lowercases and collapses whitespace. Search queries, cache keys
// and fingerprints all go through it, so "  Fluval   Filter" and "fluval filter"
// are the same text.
func NormalizeText(s string) string {
	return CompactWhitespace(strings.ToLower(s))
}
