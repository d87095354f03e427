package allowlist

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	scriptStyleRe = regexp.MustCompile(`(?is)<(script|style)[^>]*?>.*?</(script|style)>`)
	tagRe         = regexp.MustCompile(`<[^>]*>`)
	octetRe       = regexp.MustCompile(`%[a-fA-F0-9]{2}`)
	whitespaceRe  = regexp.MustCompile(`[\r\n\t ]+`)
)

// Sanitize cleans a single-line text input the way the admin form always
// has: invalid UTF-8 yields "", tags and percent-encoded octets are removed,
// whitespace runs collapse to one space and the result is trimmed.
func Sanitize(s string) string {
	if !utf8.ValidString(s) {
		return ""
	}
	s = scriptStyleRe.ReplaceAllString(s, "")
	s = tagRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = whitespaceRe.ReplaceAllString(s, " ")

	// Removing one octet can expose another, e.g. "%%4141".
	for {
		stripped := octetRe.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return strings.TrimSpace(s)
}
