package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: cards and SSNs would otherwise be classified as phone numbers.
var redactionRules = []redactionRule{
	{pattern: emailPattern, marker: "[REDACTED_EMAIL]"},
	{pattern: cardPattern, marker: "[REDACTED_CARD]"},
	{pattern: ssnPattern, marker: "[REDACTED_SSN]"},
	{pattern: phonePattern, marker: "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, rule := range redactionRules {
		next := rule.pattern.ReplaceAllString(out, rule.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// Excerpt redacts input and cuts it to at most maxRunes runes on a word
// boundary, appending an ellipsis when anything was dropped.
func Excerpt(input string, maxRunes int) (string, bool) {
	out, changed := RedactPII(strings.Join(strings.Fields(input), " "))
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out, changed
	}

	runes := []rune(out)
	cut := string(runes[:maxRunes])
	if i := strings.LastIndexByte(cut, ' '); i > maxRunes/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:") + "…", changed
}
