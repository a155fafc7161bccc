package util

import (
	"strings"
	"unicode/utf8"
)

// ContainsCJK reports whether s has a rune in the CJK Unified Ideographs block.
func ContainsCJK(s string) bool {
	for _, r := range s {
		if r >= 0x4e00 && r <= 0x9fff {
			return true
		}
	}
	return false
}

// CollapseWhitespace replaces every whitespace run with a single space and trims.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateRunes cuts s to at most n runes and appends marker when it was cut.
func TruncateRunes(s string, n int, marker string) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + marker
}

// RuneLen is the length of s in Unicode code points.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
