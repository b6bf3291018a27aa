package utils

import (
	"strings"
	"unicode"
)

// SanitizeIdentifier turns a module name into a lowercase identifier safe for
// file names and most language package names: letters, digits and underscores.
func SanitizeIdentifier(id string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.TrimSpace(id) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false
		case !lastUnderscore && b.Len() > 0:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	sanitized := strings.TrimRight(b.String(), "_")
	if sanitized == "" {
		return "module"
	}
	if unicode.IsDigit(rune(sanitized[0])) {
		sanitized = "m_" + sanitized
	}
	return sanitized
}
