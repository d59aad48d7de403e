package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	out := Render("# Title\n\nSome **bold** text.")
	assert.Contains(t, out, "<h1")
	assert.Contains(t, out, "<strong>bold</strong>")
}

func TestRender_StripsScripts(t *testing.T) {
	out := Render("hello <script>alert(1)</script> [x](javascript:alert(1))")
	assert.NotContains(t, out, "<script")
	assert.NotContains(t, out, "javascript:")
}

func TestRender_GFMTable(t *testing.T) {
	out := Render("| a | b |\n|---|---|\n| 1 | 2 |\n")
	assert.Contains(t, out, "<table>")
}

func TestTruncateWords(t *testing.T) {
	body := Render("one *two* three four five")
	assert.Equal(t, "one two three …", TruncateWords(body, 3))
	assert.Equal(t, "one two three four five", TruncateWords(body, 25))
	assert.Equal(t, "", TruncateWords(body, 0))

	long := Render(strings.Repeat("word ", 40))
	assert.Len(t, strings.Fields(TruncateWords(long, 25)), 26)
}

func TestPlainText_Unescapes(t *testing.T) {
	assert.Equal(t, "a & b", strings.TrimSpace(PlainText(Render("a & b"))))
}
