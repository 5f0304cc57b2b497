package pipeline

import (
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/resource"
)

const (
	uiElementsSelector = "snapfile-infobar, snapfile-mask"
	importsSelector    = "link[rel=import]"
	scriptsSelector    = `script:not([type="application/ld+json"])`
	discardedSelector  = `applet, meta[http-equiv=refresh], object:not([type="image/svg+xml"]):not([type="image/svg-xml"]):not([type="text/html"]), embed:not([src*=".svg"]), link[rel*=preload], link[rel*=prefetch]`
	charsetSelector    = `meta[charset], meta[http-equiv="content-type"], meta[http-equiv="Content-Type"]`
	faviconSelector    = `link[href][rel*="icon"]`
)

func (p *Processor) removeUIElements() {
	p.doc.Find(uiElementsSelector).Remove()
}

// replaceEmptyStyles restores the text of style elements whose rules were
// only reachable through the object model when the page was captured.
func (p *Processor) replaceEmptyStyles() {
	texts := p.input.EmptyStyleRulesText
	if len(texts) == 0 {
		return
	}
	i := 0
	p.doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		if s.Text() != "" || i >= len(texts) {
			return
		}
		dom.SetText(s, texts[i])
		i++
	})
}

func (p *Processor) insertNoscriptContents() {
	p.doc.Find("noscript").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		var nodes []*html.Node
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.TextNode {
				continue
			}
			parsed, err := dom.ParseFragment(c.Data)
			if err != nil {
				p.logger.Debug("parse noscript", zap.Error(err))
				continue
			}
			nodes = append(nodes, parsed...)
		}
		dom.Replace(n, nodes...)
	})
}

func (p *Processor) removeAll(selector, key string) {
	s := p.doc.Find(selector)
	p.stats.Set(Discarded, key, s.Length())
	s.Remove()
}

func (p *Processor) removeDiscardedResources() {
	objects := p.doc.Find(discardedSelector)
	p.stats.Set(Discarded, Objects, objects.Length())
	objects.Remove()

	p.doc.Find("[onload]").RemoveAttr("onload")
	p.doc.Find("[onerror]").RemoveAttr("onerror")
	if p.opts.RemoveScripts {
		for n := range p.doc.Root().Descendants() {
			if n.Type != html.ElementNode {
				continue
			}
			kept := n.Attr[:0]
			for _, a := range n.Attr {
				if a.Namespace == "" && len(a.Key) > 2 && strings.HasPrefix(a.Key, "on") {
					continue
				}
				kept = append(kept, a)
			}
			n.Attr = kept
		}
	}
	if p.opts.RemoveAudioSrc {
		audio := p.doc.Find("audio[src], audio > source[src]")
		p.stats.Set(Discarded, AudioSource, audio.Length())
		audio.RemoveAttr("src")
	}
	if p.opts.RemoveVideoSrc {
		video := p.doc.Find("video[src], video > source[src]")
		p.stats.Set(Discarded, VideoSource, video.Length())
		video.RemoveAttr("src")
	}
}

// resetCharsetMeta leaves a single <meta charset="utf-8"> as the first
// element of the head.
func (p *Processor) resetCharsetMeta() {
	p.doc.Find(charsetSelector).Remove()
	head := p.doc.Head()
	if head.Length() == 0 {
		return
	}
	meta := dom.NewElement("meta", html.Attribute{Key: "charset", Val: "utf-8"})
	insertFirstElement(head.Get(0), meta)
}

func insertFirstElement(parent, n *html.Node) {
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			parent.InsertBefore(n, c)
			return
		}
	}
	parent.AppendChild(n)
}

func (p *Processor) compressHTML(final bool) {
	size := 0
	if p.stats != nil {
		size = p.doc.ContentSize()
	}
	if final {
		dom.CompactHTMLFinal(p.doc, p.session.ID)
	} else {
		dom.CompactHTML(p.doc, p.session.ID)
	}
	if p.stats != nil {
		p.stats.Add(Discarded, HTMLBytes, size-p.doc.ContentSize())
	}
}

func (p *Processor) insertFaviconLink() {
	if p.doc.Find(faviconSelector).Length() > 0 {
		return
	}
	head := p.doc.Head()
	if head.Length() == 0 {
		return
	}
	head.Get(0).AppendChild(dom.NewElement("link",
		html.Attribute{Key: "type", Val: "image/x-icon"},
		html.Attribute{Key: "rel", Val: "shortcut icon"},
		html.Attribute{Key: "href", Val: "/favicon.ico"},
	))
}

// resolveHrefs makes every href absolute, except links to a fragment of
// the document itself.
func (p *Processor) resolveHrefs() {
	for _, n := range p.doc.Find("[href]").Nodes {
		v, _ := dom.Attr(n, "href")
		abs, ok := p.doc.Resolve(v)
		if !ok {
			continue
		}
		if i := strings.LastIndexByte(abs, '#'); i >= 0 && abs[:i] == p.baseURI {
			continue
		}
		dom.SetAttr(n, "href", abs)
	}
}

// replaceCanvasElements swaps each canvas for an image of its captured
// pixels. Canvases without data stay as they are.
func (p *Processor) replaceCanvasElements() {
	data := p.input.CanvasData
	if len(data) == 0 {
		return
	}
	for i, n := range p.doc.Find("canvas").Nodes {
		if i >= len(data) || data[i] == nil {
			continue
		}
		cd := data[i]
		img := dom.NewElement("img", html.Attribute{Key: "src", Val: cd.DataURI})
		for _, a := range n.Attr {
			if a.Val != "" {
				dom.SetAttr(img, a.Key, a.Val)
			}
		}
		if _, ok := dom.Attr(img, "width"); !ok && cd.Width > 0 {
			appendStyle(img, "width", strconv.Itoa(cd.Width)+"px")
		}
		if _, ok := dom.Attr(img, "height"); !ok && cd.Height > 0 {
			appendStyle(img, "height", strconv.Itoa(cd.Height)+"px")
		}
		dom.Replace(n, img)
		p.stats.Add(Processed, Canvas, 1)
	}
}

func appendStyle(n *html.Node, property, value string) {
	style, _ := dom.Attr(n, "style")
	style = strings.TrimSpace(style)
	if style != "" && !strings.HasSuffix(style, ";") {
		style += ";"
	}
	if style != "" {
		style += " "
	}
	dom.SetAttr(n, "style", style+property+": "+value+";")
}

func (p *Processor) removeHiddenElements() {
	hidden := p.doc.Find("[" + dom.RemovedContentAttr(p.session.ID) + "]")
	p.stats.Set(Discarded, HiddenElements, hidden.Length())
	hidden.Remove()
}

func (p *Processor) compressCSS() {
	p.doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		dom.SetText(s, dom.MinifyCSS(s.Text()))
	})
	for _, n := range p.doc.Find("[style]").Nodes {
		v, _ := dom.Attr(n, "style")
		dom.SetAttr(n, "style", dom.MinifyInlineCSS(v))
	}
}

func (p *Processor) insertComment() {
	root := p.doc.Root()
	if root == nil {
		return
	}
	now := p.session.now()
	text := "\n Archive processed by snapfile \n url: " + p.baseURI + " \n saved date: " + now.Format("Mon Jan 02 2006 15:04:05 GMT-0700 (MST)") + " \n"
	root.InsertBefore(dom.NewComment(text), root.FirstChild)
}

// removeDefaultHeadTags drops <base> elements, which no longer apply to
// absolute references, and the lone charset meta of an empty document.
func (p *Processor) removeDefaultHeadTags() {
	p.doc.Find("base").Remove()
	head, body := p.doc.Head(), p.doc.Body()
	if head.Length() == 0 || body.Length() == 0 {
		return
	}
	if head.Find("*").Length() == 1 && head.Find("meta[charset]").Length() == 1 && body.Get(0).FirstChild == nil {
		head.Find("meta[charset]").Remove()
	}
}

// lazyLoadImages promotes embedded lazy-load sources to the real
// attributes and lets the browser defer the images.
func (p *Processor) lazyLoadImages() {
	for _, ls := range lazySources {
		target := "src"
		if ls.srcset {
			target = "srcset"
		}
		for _, n := range p.doc.Find(ls.selector).Nodes {
			v, _ := dom.Attr(n, ls.attr)
			if resource.IsEmbeddable(v) {
				continue
			}
			dom.SetAttr(n, target, v)
			dom.RemoveAttr(n, ls.attr)
		}
	}
	for _, n := range p.doc.Find("img:not([loading])").Nodes {
		dom.SetAttr(n, "loading", "lazy")
	}
}

// isolate collapses the document to the selected subtree rooted at root:
// unselected descendants go, and so do the siblings of root and of its
// ancestors except head and style elements.
func isolate(root *html.Node) {
	var descendants []*html.Node
	for n := range root.Descendants() {
		if n.Type == html.ElementNode {
			descendants = append(descendants, n)
		}
	}
	for _, n := range descendants {
		if v, ok := dom.Attr(n, dom.SelectedContentAttr); ok && v == "" {
			dom.RemoveAttr(n, dom.SelectedContentAttr)
			continue
		}
		if !hasSelectedDescendant(n) && n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
	for el := root; el.Parent != nil && el.Parent.Type == html.ElementNode; el = el.Parent {
		parent := el.Parent
		for c := parent.FirstChild; c != nil; {
			next := c.NextSibling
			if c != el && c.DataAtom != atom.Head && c.DataAtom != atom.Style {
				parent.RemoveChild(c)
			}
			c = next
		}
	}
}

func hasSelectedDescendant(n *html.Node) bool {
	for d := range n.Descendants() {
		if d.Type != html.ElementNode {
			continue
		}
		if _, ok := dom.Attr(d, dom.SelectedContentAttr); ok {
			return true
		}
	}
	return false
}
