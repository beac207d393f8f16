// Package utils provides shared utilities for text, math, and logging.
package utils

// Truncate returns s cut to at most maxLen bytes on a UTF-8 boundary, with
// "..." appended when anything was cut. If maxLen is 0 or negative, returns
// s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return TruncateBytes(s, maxLen) + "..."
}

// TruncateBytes returns s cut to at most maxLen bytes without splitting a
// UTF-8 sequence. No ellipsis is appended; used for hard payload bounds.
func TruncateBytes(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
