package slug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	cases := map[string]string{
		"Hello, World!":            "hello-world",
		"  Go   -- generics  ":     "go-generics",
		"Привет мир":               "privet-mir",
		"Щука и ёж":                "shchuka-i-ezh",
		"Crème brûlée à la carte":  "creme-brulee-a-la-carte",
		"Straße":                   "strasse",
		"__init__ and more":        "init__-and-more",
		"snake_case_title":         "snake_case_title",
		"100% sure":                "100-sure",
		"":                         "",
		"!!!":                      "",
		"日本語":                      "",
		"tabs\tand\nnewlines":      "tabs-and-newlines",
		"trailing dash -":          "trailing-dash",
	}
	for in, want := range cases {
		assert.Equal(t, want, Make(in), "Make(%q)", in)
	}
}

func TestMake_Idempotent(t *testing.T) {
	for _, in := range []string{"Привет, Go!", "a - b _ c", "Ünïcödé"} {
		once := Make(in)
		assert.Equal(t, once, Make(once))
	}
}
