package util

import "strings"

// SanitizeText drops invalid UTF-8 and NUL bytes before text is stored as a
// graph property.
func SanitizeText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// CollapseWhitespace replaces every run of whitespace with a single space.
func CollapseWhitespace(value string) string {
	return strings.Join(strings.Fields(value), " ")
}
