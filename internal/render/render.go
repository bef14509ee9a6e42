// Package render implements template variable substitution for outbound
// messages. Rendering is a pure string transformation with no side effects
// and no network access, so it is safe to call for previews.
package render

import (
	"html"
	"strings"
)

// Render replaces every occurrence of each {{name}} placeholder in text
// with its value from vars. Placeholders with no matching variable are left
// verbatim; text containing no placeholders is returned unchanged.
func Render(text string, vars map[string]string) string {
	for name, value := range vars {
		text = strings.ReplaceAll(text, "{{"+name+"}}", value)
	}
	return text
}

// RenderHTML is Render with each substituted value HTML-escaped. Use it
// when the template body is sent as HTML and variable values come from
// user-entered contact fields. The template text itself is not escaped.
func RenderHTML(text string, vars map[string]string) string {
	escaped := make(map[string]string, len(vars))
	for name, value := range vars {
		escaped[name] = html.EscapeString(value)
	}
	return Render(text, escaped)
}
