package utils

import (
	"strings"
	"unicode"
)

// SanitizeString strips control characters (except common whitespace)
// and trims the result. Applied to user-supplied text before it enters
// room history.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// TruncateString truncates a string to max length, with ellipsis when
// there is room for one.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// MaskSensitive masks all but the first visibleChars characters.
func MaskSensitive(s string, visibleChars int) string {
	if len(s) <= visibleChars {
		return strings.Repeat("*", len(s))
	}
	return s[:visibleChars] + strings.Repeat("*", len(s)-visibleChars)
}

// IsEmpty checks if a string is empty or only whitespace.
func IsEmpty(s string) bool {
	return strings.TrimSpace(s) == ""
}
