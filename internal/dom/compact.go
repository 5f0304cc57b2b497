package dom

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var whitespaceRe = regexp.MustCompile(`[ \t\n\r\f]+`)

// elements whose text is significant as written
var verbatimElements = map[atom.Atom]bool{
	atom.Pre: true, atom.Textarea: true, atom.Script: true, atom.Style: true,
	atom.Noscript: true, atom.Template: true, atom.Xmp: true, atom.Listing: true,
	atom.Plaintext: true, atom.Iframe: true, atom.Noembed: true, atom.Noframes: true,
}

// elements that never render their whitespace-only text children
var structuralElements = map[atom.Atom]bool{
	atom.Html: true, atom.Head: true, atom.Table: true, atom.Thead: true,
	atom.Tbody: true, atom.Tfoot: true, atom.Tr: true, atom.Colgroup: true,
	atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Select: true,
	atom.Optgroup: true, atom.Frameset: true,
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Body: true, atom.Dd: true, atom.Details: true, atom.Dialog: true,
	atom.Div: true, atom.Dt: true, atom.Fieldset: true, atom.Figcaption: true,
	atom.Figure: true, atom.Footer: true, atom.Form: true, atom.H1: true,
	atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true,
	atom.Nav: true, atom.P: true, atom.Section: true, atom.Summary: true,
	atom.Td: true, atom.Th: true, atom.Caption: true, atom.Link: true,
	atom.Meta: true, atom.Title: true, atom.Style: true, atom.Script: true,
	atom.Base: true, atom.Noscript: true,
}

// CompactHTML collapses whitespace runs in text nodes and drops
// whitespace-only text where it cannot render. Subtrees marked with the
// session's preserved-space attribute are left untouched.
func CompactHTML(doc *Document, sessionID int64) {
	compact(doc.Root(), PreservedSpaceAttr(sessionID), false)
}

// CompactHTMLFinal is the stricter compaction run on the finished
// document: comments go too, except those placed before the root element.
func CompactHTMLFinal(doc *Document, sessionID int64) {
	compact(doc.Root(), PreservedSpaceAttr(sessionID), true)
}

func compact(n *html.Node, preserveAttr string, final bool) {
	if n == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch c.Type {
		case html.CommentNode:
			if final {
				n.RemoveChild(c)
			}
		case html.TextNode:
			compactText(n, c)
		case html.ElementNode:
			if _, preserved := Attr(c, preserveAttr); !preserved && !verbatimElements[c.DataAtom] {
				compact(c, preserveAttr, final)
			}
		}
		c = next
	}
}

func compactText(parent, t *html.Node) {
	text := whitespaceRe.ReplaceAllString(t.Data, " ")
	if strings.TrimSpace(text) != "" {
		t.Data = text
		return
	}
	if structuralElements[parent.DataAtom] || nextToBlock(t) {
		parent.RemoveChild(t)
		return
	}
	t.Data = text
}

// nextToBlock reports whether whitespace text t touches a block boundary
// on either side.
func nextToBlock(t *html.Node) bool {
	prev, next := t.PrevSibling, t.NextSibling
	if prev == nil || next == nil {
		return blockElements[t.Parent.DataAtom]
	}
	return isBlock(prev) || isBlock(next)
}

func isBlock(n *html.Node) bool {
	return n.Type == html.ElementNode && blockElements[n.DataAtom]
}
