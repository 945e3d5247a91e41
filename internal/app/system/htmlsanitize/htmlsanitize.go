// Package htmlsanitize strips markup from user-supplied display text such as
// classroom public names and repertoire names.
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// PlainText removes every tag (and the content of script and style
// elements), decodes entities, and collapses runs of whitespace.
// The result is plain text; callers escape it for whatever they render into.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	clean := html.UnescapeString(strict.Sanitize(s))
	return strings.Join(strings.Fields(clean), " ")
}
