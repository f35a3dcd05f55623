package search

import (
	"regexp"
	"strings"
)

var (
	choicePlaceholder = regexp.MustCompile(`\$\{\d+\|([^,|}]*)[^}]*\|\}`)
	variableWithText  = regexp.MustCompile(`\$\{TM_[A-Z_]+(?::[^}]*)?\}`)
	tabstopWithText   = regexp.MustCompile(`\$\{\d+:([^}]*)\}`)
	bareTabstop       = regexp.MustCompile(`\$\{?\d+\}?`)
)

// Document renders insert text for display: placeholder markup is reduced
// to its default text and the result is fenced as HTML.
func Document(insertText string) string {
	return "```html\n" + StripPlaceholders(insertText) + "\n```"
}

// StripPlaceholders removes tab stops, choices and editor variables from
// snippet insert text, keeping each placeholder's default value.
func StripPlaceholders(text string) string {
	text = choicePlaceholder.ReplaceAllString(text, "$1")
	text = variableWithText.ReplaceAllString(text, "")
	// Nested placeholders unwrap from the inside out.
	for i := 0; i < 8 && tabstopWithText.MatchString(text); i++ {
		text = tabstopWithText.ReplaceAllString(text, "$1")
	}
	text = bareTabstop.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}
