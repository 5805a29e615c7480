package validate

import (
	"regexp"
	"strings"
)

var (
	tagRe          = regexp.MustCompile(`<[^>]*>`)
	sqlMetaRe      = regexp.MustCompile(`['";\\]`)
	filenameBadRe  = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	underscoreRuns = regexp.MustCompile(`_{2,}`)

	entityReplacer = strings.NewReplacer(
		"<", "&lt;",
		">", "&gt;",
		"&", "&amp;",
		`"`, "&quot;",
		"'", "&#x27;",
	)
)

// SanitizeText strips tags, escapes HTML metacharacters and trims whitespace.
func SanitizeText(s string) string {
	return strings.TrimSpace(entityReplacer.Replace(tagRe.ReplaceAllString(s, "")))
}

// SanitizeSQL removes quote, semicolon and backslash characters.
func SanitizeSQL(s string) string {
	return sqlMetaRe.ReplaceAllString(s, "")
}

// SanitizeFilename keeps [a-zA-Z0-9.-], folds everything else into single underscores.
func SanitizeFilename(s string) string {
	s = filenameBadRe.ReplaceAllString(s, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
