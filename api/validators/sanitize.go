package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims, drops control characters other than newlines and
// tabs, and truncates to maxLen runes. maxLen <= 0 means no limit.
func SanitizeString(input string, maxLen int) string {
	cleaned := strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, input))

	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}
