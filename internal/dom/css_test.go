package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRemoveUnusedRules(t *testing.T) {
	doc := mustParse(t, `<html><head><style>p{color:red} .missing{color:blue} a:hover{color:green} @media screen{.nope{top:0} p{left:0}}</style></head>`+
		`<body><p>x</p><a href="#">l</a></body></html>`, "")

	stats := RemoveUnusedRules(doc)
	assert.Equal(t, RuleStats{Processed: 3, Discarded: 2}, stats)

	text := doc.Find("style").Text()
	assert.Contains(t, text, "p { color: red; }")
	assert.Contains(t, text, "a:hover { color: green; }")
	assert.Contains(t, text, "@media screen { p { left: 0; } }")
	assert.NotContains(t, text, ".missing")
	assert.NotContains(t, text, ".nope")
}

func TestRemoveUnusedRulesKeepsUnparsableSelectors(t *testing.T) {
	doc := mustParse(t, `<html><head><style>p:unknown-state{color:red}</style></head><body></body></html>`, "")
	stats := RemoveUnusedRules(doc)
	assert.Equal(t, RuleStats{Processed: 1}, stats)
	assert.Equal(t, "p:unknown-state{color:red}", doc.Find("style").Text())
}

func TestStaticSelector(t *testing.T) {
	cases := map[string]string{
		"a:hover":           "a",
		":focus":            "*",
		"ul > :hover":       "ul > *",
		"p::before":         "p",
		"a:FOCUS-VISIBLE b": "a b",
		"div.x":             "div.x",
	}
	for in, want := range cases {
		assert.Equal(t, want, staticSelector(in), in)
	}
}

func TestRemoveAlternativeFonts(t *testing.T) {
	doc := mustParse(t, `<html><head><style>`+
		`@font-face{font-family:"Used";src:url(a.woff2) format("woff2"),url(a.ttf) format("truetype")}`+
		`@font-face{font-family:Unused;src:url(b.woff)}`+
		`p{font-family:Used, serif}</style></head><body><p>x</p></body></html>`, "")

	RemoveAlternativeFonts(doc, false)
	text := doc.Find("style").Text()
	assert.Contains(t, text, `src: url(a.woff2) format("woff2");`)
	assert.NotContains(t, text, "a.ttf")
	assert.NotContains(t, text, "Unused")
}

func TestRemoveAlternativeFontsSecondPassDropsRemoteSources(t *testing.T) {
	doc := mustParse(t, `<html><head><style>`+
		`@font-face{font-family:A;src:local(A),url(https://x.test/a.woff)}`+
		`@font-face{font-family:A;src:url("data:font/woff2;base64,AAAA") format("woff2")}`+
		`p{font:12px A}</style></head><body><p>x</p></body></html>`, "")

	RemoveAlternativeFonts(doc, true)
	text := doc.Find("style").Text()
	assert.NotContains(t, text, "x.test")
	assert.Contains(t, text, "data:font/woff2;base64,AAAA")
}

func TestShorthandFamilies(t *testing.T) {
	assert.Equal(t, []string{"open sans", "sans-serif"}, shorthandFamilies(`italic bold 12px/30px "Open Sans", sans-serif`))
	assert.Nil(t, shorthandFamilies("inherit"))
}

func TestMinifyCSS(t *testing.T) {
	assert.Equal(t, "p{color:red}", MinifyCSS("p {  color : red ; }"))
	assert.Equal(t, "color:red", MinifyInlineCSS("color : red ;"))
}

func TestRemoveUnusedRulesLeavesUntouchedSheetsVerbatim(t *testing.T) {
	doc := mustParse(t, `<html><head><style>@charset "utf-8"; @font-face{font-family:F} .a{}</style></head><body><p class="a"></p></body></html>`, "")
	assert.Equal(t, RuleStats{Processed: 1}, RemoveUnusedRules(doc))
	assert.Equal(t, `@charset "utf-8"; @font-face{font-family:F} .a{}`, doc.Find("style").Text())
}

func TestSerializeRules(t *testing.T) {
	doc := mustParse(t, `<html><head><style>@import url(a.css) print; @font-face{font-family:F;src:url(f.woff)} .gone{x:y} p{color:red !important}</style></head><body><p></p></body></html>`, "")
	RemoveUnusedRules(doc)
	assert.Equal(t, "@import url(a.css) print;\n@font-face { font-family: F; src: url(f.woff); }\np { color: red !important; }", doc.Find("style").Text())
}
