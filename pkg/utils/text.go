// Package utils holds small helpers shared by the service, the server and the
// CLI: text shaping, vector math, token estimates and logging.
package utils

import (
	"strings"
	"unicode/utf8"
)

// Truncate shortens s to at most n characters and appends "..." when it cut
// anything. n <= 0 disables truncation.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}

// StripNewLines replaces every newline with a single space.
func StripNewLines(s string) string {
	return strings.ReplaceAll(s, "\n", " ")
}

// CharCount returns the number of characters in s, which is the unit request
// length limits are expressed in.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}
