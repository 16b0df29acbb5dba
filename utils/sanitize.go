package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var sanitizer = bluemonday.StrictPolicy()

// SanitizeText strips all markup from user-entered goal text. Entities the
// policy escapes are decoded again since the text is stored and shown as plain text.
func SanitizeText(input string) string {
	return strings.TrimSpace(html.UnescapeString(sanitizer.Sanitize(input)))
}
