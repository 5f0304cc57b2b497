// Package dom is the document and style model used by the capture
// pipeline: HTML parsing and serialization, selector queries, a static
// style cascade and stylesheet tooling.
package dom

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var ErrNoRoot = errors.New("dom: document has no root element")

// Document is a parsed HTML document bound to the URL it was loaded from.
// It is not safe for concurrent use.
type Document struct {
	*goquery.Document
	url string
}

// Parse builds a document from markup. docURL is used to resolve relative
// references and may be empty.
func Parse(content, docURL string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return &Document{Document: goquery.NewDocumentFromNode(root), url: docURL}, nil
}

func (d *Document) URL() string { return d.url }

// Root returns the <html> element.
func (d *Document) Root() *html.Node {
	for _, n := range d.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				return c
			}
		}
	}
	return nil
}

func (d *Document) Head() *goquery.Selection { return d.Find("head").First() }
func (d *Document) Body() *goquery.Selection { return d.Find("body").First() }

// BaseURI honors the first <base href> of the document.
func (d *Document) BaseURI() string {
	href, ok := d.Find("base[href]").First().Attr("href")
	if !ok {
		return d.url
	}
	base, err := url.Parse(d.url)
	if err != nil {
		return d.url
	}
	ref, err := base.Parse(strings.TrimSpace(href))
	if err != nil {
		return d.url
	}
	return ref.String()
}

// Resolve turns a reference found in the document into an absolute URL.
func (d *Document) Resolve(ref string) (string, bool) {
	return ResolveURL(d.BaseURI(), ref)
}

func ResolveURL(base, ref string) (string, bool) {
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	u, err := b.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	return u.String(), true
}

// Title is the trimmed text of the first <title>.
func (d *Document) Title() string {
	return strings.TrimSpace(d.Find("title").First().Text())
}

// WantsEscapedFragment reports whether the page asks crawlers to load its
// _escaped_fragment_ variant instead.
func (d *Document) WantsEscapedFragment() bool {
	return d.Find(`meta[name=fragment][content="!"]`).Length() > 0
}

// Doctype reconstructs the document type declaration, or "" when there is
// none.
func (d *Document) Doctype() string {
	for _, n := range d.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.DoctypeNode {
				continue
			}
			var public, system string
			for _, a := range c.Attr {
				switch a.Key {
				case "public":
					public = a.Val
				case "system":
					system = a.Val
				}
			}
			s := "<!DOCTYPE " + c.Data
			switch {
			case public != "":
				s += ` PUBLIC "` + public + `"`
				if system != "" {
					s += ` "` + system + `"`
				}
			case system != "":
				s += ` SYSTEM "` + system + `"`
			}
			return s + ">"
		}
	}
	return ""
}

// Serialize renders the doctype followed by the root element markup.
func (d *Document) Serialize() (string, error) {
	root := d.Root()
	if root == nil {
		return "", ErrNoRoot
	}
	content, err := OuterHTML(root)
	if err != nil {
		return "", err
	}
	return d.Doctype() + content, nil
}

// ContentSize is the byte size of the root element markup.
func (d *Document) ContentSize() int {
	root := d.Root()
	if root == nil {
		return 0
	}
	content, err := OuterHTML(root)
	if err != nil {
		return 0
	}
	return len(content)
}

func OuterHTML(n *html.Node) (string, error) {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return "", fmt.Errorf("dom: render: %w", err)
	}
	return b.String(), nil
}

// SetText replaces the children of every node of s with a single text
// node. Unlike goquery's SetText the value is kept verbatim, which is what
// raw text elements such as <style> and <script> need.
func SetText(s *goquery.Selection, text string) {
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = n.FirstChild {
			n.RemoveChild(c)
		}
		if text != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		}
	}
}

// NewElement creates a detached HTML element.
func NewElement(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Lookup([]byte(tag)),
		Data:     tag,
		Attr:     attrs,
	}
}

func NewComment(text string) *html.Node {
	return &html.Node{Type: html.CommentNode, Data: text}
}

// MoveChildren reparents every child of src to the end of dst.
func MoveChildren(dst, src *html.Node) {
	for c := src.FirstChild; c != nil; c = src.FirstChild {
		src.RemoveChild(c)
		dst.AppendChild(c)
	}
}

// Replace puts replacement where old is. old ends up detached.
func Replace(old *html.Node, replacement ...*html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	for _, r := range replacement {
		if r.Parent != nil {
			r.Parent.RemoveChild(r)
		}
		parent.InsertBefore(r, old)
	}
	parent.RemoveChild(old)
}

// ParseFragment parses markup found inside a <noscript> or an import into
// detached nodes: the children of the resulting head and body, in order.
func ParseFragment(markup string) ([]*html.Node, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	var nodes []*html.Node
	for n := range root.Descendants() {
		if n.Type != html.ElementNode || (n.DataAtom != atom.Head && n.DataAtom != atom.Body) {
			continue
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			nodes = append(nodes, c)
		}
	}
	for _, n := range nodes {
		n.Parent.RemoveChild(n)
	}
	return nodes, nil
}

// Attr returns the value of key on n. A prefixed key such as
// "xlink:href" also matches the namespaced attribute of foreign content.
func Attr(n *html.Node, key string) (string, bool) {
	if i := attrIndex(n, key); i >= 0 {
		return n.Attr[i].Val, true
	}
	return "", false
}

// SetAttr sets or adds key on n.
func SetAttr(n *html.Node, key, val string) {
	if i := attrIndex(n, key); i >= 0 {
		n.Attr[i].Val = val
		return
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func RemoveAttr(n *html.Node, key string) {
	if i := attrIndex(n, key); i >= 0 {
		n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
	}
}

func attrIndex(n *html.Node, key string) int {
	ns, local, _ := strings.Cut(key, ":")
	if local == "" {
		ns, local = "", key
	}
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return i
		}
		if ns != "" && a.Namespace == ns && a.Key == local {
			return i
		}
	}
	return -1
}
