package util

import "unicode/utf8"

// SafeTruncate truncates s to at most maxLen bytes without panicking.
// The cut is moved back to a rune boundary so the result stays valid UTF-8.
//
// If maxLen is negative, it's treated as 0 and returns an empty string.
//
// Example:
//
//	SafeTruncate("very-long-identifier", 8) // Returns: "very-lon"
//	SafeTruncate("short", 10)               // Returns: "short"
//	SafeTruncate("hello世界", 7)             // Returns: "hello"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
