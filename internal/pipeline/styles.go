package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/adityalohuni/snapfile/internal/batch"
	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/resource"
)

const (
	linkStylesheetSelector = "link[rel*=stylesheet]"
	maxImportDepth         = 16
)

// resolveStylesheets is the concurrent part of Initialize: style element
// imports, linked stylesheets and nested frames are fetched in parallel,
// then the document is rewritten in document order.
func (p *Processor) resolveStylesheets(ctx context.Context) error {
	base := p.doc.BaseURI()
	styles := p.doc.Find("style").Nodes
	styleTexts := make([]string, len(styles))
	for i, n := range styles {
		styleTexts[i] = absolutizeStyleURLs(textOf(n), base)
	}

	links := p.doc.Find(linkStylesheetSelector).Nodes
	linkTexts := make([]*string, len(links))

	g, gctx := errgroup.WithContext(ctx)
	for i := range styles {
		g.Go(func() error {
			styleTexts[i] = p.inlineImports(gctx, styleTexts[i], base, 0)
			return nil
		})
	}
	for i, n := range links {
		href, _ := dom.Attr(n, "href")
		media, _ := dom.Attr(n, "media")
		g.Go(func() error {
			text, ok := p.fetchStylesheet(gctx, href, media)
			if ok {
				linkTexts[i] = &text
			}
			return nil
		})
	}
	var frames []*frameJob
	if !p.opts.RemoveFrames && len(p.input.Frames) > 0 {
		frames = p.prepareFrames()
		for _, job := range frames {
			g.Go(func() error {
				job.err = job.child.Load(gctx)
				if job.err == nil {
					job.err = job.child.Initialize(gctx)
				}
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}

	for i, n := range styles {
		setText(n, styleTexts[i])
	}
	for i, n := range links {
		if linkTexts[i] == nil {
			continue
		}
		style := dom.NewElement("style")
		style.AppendChild(&html.Node{Type: html.TextNode, Data: *linkTexts[i]})
		dom.Replace(n, style)
	}
	for _, n := range p.doc.Find("[style]").Nodes {
		v, _ := dom.Attr(n, "style")
		dom.SetAttr(n, "style", absolutizeStyleURLs(v, base))
	}
	for _, job := range frames {
		if job.err != nil {
			p.logger.Debug("frame initialization failed", zap.String("window", job.windowID), zap.Error(job.err))
			continue
		}
		p.frames[job.node] = job.child
	}
	return nil
}

// fetchStylesheet downloads a linked stylesheet with its url() references
// made absolute and its imports inlined, guarded by media.
func (p *Processor) fetchStylesheet(ctx context.Context, href, media string) (string, bool) {
	ref := resource.Normalize(href)
	if ref == "" || ref == p.baseURI || ref == resource.AboutBlank {
		return "", true
	}
	abs, ok := p.doc.Resolve(ref)
	if !ok {
		return "", false
	}
	text, err := p.session.Batch.Text(ctx, abs, p.opts.MaxResourceBytes())
	if err != nil {
		p.logger.Debug("stylesheet unavailable", zap.String("href", abs), zap.Error(err))
		return "", false
	}
	text = absolutizeStyleURLs(text, abs)
	text = p.inlineImports(ctx, text, abs, 0)
	return resource.WrapInMedia(text, media), true
}

// inlineImports replaces the @import statements of css with the imported
// stylesheets, recursively, so the deepest import is expanded first. An
// import that cannot be fetched is dropped.
func (p *Processor) inlineImports(ctx context.Context, css, base string, depth int) string {
	if depth >= maxImportDepth {
		return css
	}
	stripped := resource.StripComments(css)
	statements := resource.ExtractImportStatements(stripped)
	if len(statements) == 0 {
		return css
	}
	css = stripped
	expanded := make([]*string, len(statements))
	g, gctx := errgroup.WithContext(ctx)
	for i, stmt := range statements {
		imp, ok := resource.MatchImportArgument(stmt)
		if !ok {
			continue
		}
		ref := resource.Normalize(imp.URL)
		if ref == "" || ref == base || ref == resource.AboutBlank {
			continue
		}
		abs, ok := dom.ResolveURL(base, imp.URL)
		if !ok {
			continue
		}
		g.Go(func() error {
			text, err := p.session.Batch.Text(gctx, abs, p.opts.MaxResourceBytes())
			if err != nil {
				p.logger.Debug("import unavailable", zap.String("href", abs), zap.Error(err))
				expanded[i] = new(string)
				return nil
			}
			text = absolutizeStyleURLs(text, abs)
			text = p.inlineImports(gctx, text, abs, depth+1)
			text = resource.WrapInMedia(text, imp.Media)
			expanded[i] = &text
			return nil
		})
	}
	_ = g.Wait()
	for i, stmt := range statements {
		if expanded[i] != nil {
			css = strings.Replace(css, stmt, *expanded[i], 1)
		}
	}
	return css
}

// absolutizeStyleURLs rewrites the url() references of css relative to
// base.
func absolutizeStyleURLs(css, base string) string {
	for _, fn := range resource.ExtractStyleReferences(css) {
		raw, ok := resource.MatchURLArgument(fn)
		if !ok {
			continue
		}
		ref := resource.Normalize(raw)
		if ref == "" || ref == base || !resource.IsEmbeddable(ref) {
			continue
		}
		abs, ok := dom.ResolveURL(base, ref)
		if !ok || abs == ref {
			continue
		}
		css = strings.Replace(css, fn, strings.Replace(fn, ref, abs, 1), 1)
	}
	return css
}

type styleRef struct {
	fn, ref string
	future  *batch.Future
}

// registerStyleRefs registers every embeddable url() of css with the
// coalescer.
func (p *Processor) registerStyleRefs(css string) []styleRef {
	var refs []styleRef
	for _, fn := range resource.ExtractStyleReferences(css) {
		raw, ok := resource.MatchURLArgument(fn)
		if !ok {
			continue
		}
		ref := resource.Normalize(raw)
		if ref == "" || ref == p.baseURI || !resource.IsEmbeddable(ref) {
			continue
		}
		abs, ok := dom.ResolveURL(p.baseURI, ref)
		if !ok {
			continue
		}
		refs = append(refs, styleRef{fn: fn, ref: ref, future: p.session.Batch.Register(abs)})
	}
	return refs
}

func embedStyleRefs(ctx context.Context, css string, refs []styleRef) string {
	for _, r := range refs {
		payload, err := r.future.Wait(ctx)
		if err != nil {
			continue
		}
		css = strings.Replace(css, r.fn, strings.Replace(r.fn, r.ref, payload, 1), 1)
	}
	return css
}

func (p *Processor) registerStyleElements() {
	for _, n := range p.doc.Find("style").Nodes {
		refs := p.registerStyleRefs(textOf(n))
		p.pending = append(p.pending, func(ctx context.Context) {
			p.stats.Add(Processed, StyleSheets, 1)
			if len(refs) > 0 {
				setText(n, embedStyleRefs(ctx, textOf(n), refs))
			}
		})
	}
}

func (p *Processor) registerStyleAttributes() {
	for _, n := range p.doc.Find("[style]").Nodes {
		v, _ := dom.Attr(n, "style")
		refs := p.registerStyleRefs(v)
		if len(refs) == 0 {
			continue
		}
		p.pending = append(p.pending, func(ctx context.Context) {
			v, _ := dom.Attr(n, "style")
			dom.SetAttr(n, "style", embedStyleRefs(ctx, v, refs))
		})
	}
}

func textOf(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
	if text != "" {
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}
