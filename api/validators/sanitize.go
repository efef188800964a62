package validators

import (
	"strings"
	"unicode/utf8"
)

// SanitizeString trims input and cuts it to at most maxLen runes so a
// multi-byte title is never split mid character.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen <= 0 || utf8.RuneCountInString(trimmed) <= maxLen {
		return trimmed
	}
	runes := []rune(trimmed)
	return strings.TrimSpace(string(runes[:maxLen]))
}
