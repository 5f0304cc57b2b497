package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

func mustParse(t *testing.T, content, docURL string) *Document {
	t.Helper()
	doc, err := Parse(content, docURL)
	require.NoError(t, err)
	return doc
}

func TestSerializeRoundTrip(t *testing.T) {
	in := `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"/><title>t</title></head><body><p class="x">Hello <b>world</b></p></body></html>`
	out, err := mustParse(t, in, "https://a.test/").Serialize()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDoctypeReconstruction(t *testing.T) {
	doc := mustParse(t, `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd"><html><body></body></html>`, "")
	assert.Equal(t, `<!DOCTYPE html PUBLIC "-//W3C//DTD XHTML 1.0 Strict//EN" "http://www.w3.org/TR/xhtml1/DTD/xhtml1-strict.dtd">`, doc.Doctype())

	assert.Equal(t, "", mustParse(t, `<html><body></body></html>`, "").Doctype())
}

func TestBaseURIAndResolve(t *testing.T) {
	doc := mustParse(t, `<html><head><base href="/assets/"></head><body></body></html>`, "https://a.test/dir/page.html")
	assert.Equal(t, "https://a.test/assets/", doc.BaseURI())

	u, ok := doc.Resolve(" img.png ")
	require.True(t, ok)
	assert.Equal(t, "https://a.test/assets/img.png", u)

	plain := mustParse(t, `<p>x</p>`, "https://a.test/dir/page.html")
	u, ok = plain.Resolve("../up.css")
	require.True(t, ok)
	assert.Equal(t, "https://a.test/up.css", u)
}

func TestTitleIsTrimmed(t *testing.T) {
	doc := mustParse(t, `<html><head><title>  Hi there  </title></head></html>`, "")
	assert.Equal(t, "Hi there", doc.Title())
}

func TestSetTextKeepsRawText(t *testing.T) {
	doc := mustParse(t, `<html><head><style>old</style></head></html>`, "")
	style := doc.Find("style")
	SetText(style, "a > b { content: '<x>' }")

	out, err := OuterHTML(style.Get(0))
	require.NoError(t, err)
	assert.Equal(t, "<style>a > b { content: '<x>' }</style>", out)
}

func TestParseFragmentSplitsHeadAndBody(t *testing.T) {
	nodes, err := ParseFragment(`<link rel="stylesheet" href="a.css"><p>x</p>`)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "link", nodes[0].Data)
	assert.Equal(t, "p", nodes[1].Data)
	assert.Nil(t, nodes[0].Parent)
}

func TestReplaceAndAttributes(t *testing.T) {
	doc := mustParse(t, `<html><body><canvas id="c"></canvas></body></html>`, "")
	canvas := doc.Find("canvas").Get(0)
	img := NewElement("img", html.Attribute{Key: "src", Val: "data:,"})
	SetAttr(img, "id", "c")
	Replace(canvas, img)

	out, err := OuterHTML(doc.Body().Get(0))
	require.NoError(t, err)
	assert.Equal(t, `<body><img src="data:," id="c"/></body>`, out)

	RemoveAttr(img, "id")
	_, ok := Attr(img, "id")
	assert.False(t, ok)
}

func TestNamespacedAttribute(t *testing.T) {
	doc := mustParse(t, `<svg><use xlink:href="#shape"></use></svg>`, "")
	use := doc.Find("use").Get(0)

	v, ok := Attr(use, "xlink:href")
	require.True(t, ok)
	assert.Equal(t, "#shape", v)

	SetAttr(use, "xlink:href", "data:image/svg+xml;base64,AA==")
	v, _ = Attr(use, "xlink:href")
	assert.Equal(t, "data:image/svg+xml;base64,AA==", v)
}
