// Package markdown renders article bodies to sanitized HTML.
package markdown

import (
	"bytes"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	md = goldmark.New(goldmark.WithExtensions(extension.GFM))

	ugc   = bluemonday.UGCPolicy()
	plain = bluemonday.StrictPolicy()
)

// Render converts markdown to HTML safe to embed in a page.
func Render(src string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return html.EscapeString(src)
	}
	return ugc.Sanitize(buf.String())
}

// PlainText strips all markup from rendered HTML.
func PlainText(htmlSrc string) string {
	return html.UnescapeString(plain.Sanitize(htmlSrc))
}

// TruncateWords keeps the first n words of the text of htmlSrc, appending
// an ellipsis when anything was cut.
func TruncateWords(htmlSrc string, n int) string {
	words := strings.Fields(PlainText(htmlSrc))
	if n <= 0 {
		return ""
	}
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ") + " …"
}
