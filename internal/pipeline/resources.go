package pipeline

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/adityalohuni/snapfile/internal/batch"
	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/resource"
)

var closingScriptRe = regexp.MustCompile(`(?i)</script>`)

// attributeSource is a group of elements whose attribute references a
// resource. Groups with emptyOnFailure must not keep a reference to a
// resource that failed to load.
type attributeSource struct {
	selector       string
	attr           string
	emptyOnFailure bool
}

var pageSources = []attributeSource{
	{selector: faviconSelector, attr: "href", emptyOnFailure: true},
	{selector: `img[src], input[src][type=image], object[type="image/svg+xml"], object[type="image/svg-xml"], embed[src*=".svg"]`, attr: "src"},
	{selector: "video[poster]", attr: "poster", emptyOnFailure: true},
	{selector: "*[background]", attr: "background"},
	{selector: "image, use", attr: "xlink:href"},
}

var (
	audioSource = attributeSource{selector: "audio[src], audio > source[src]", attr: "src", emptyOnFailure: true}
	videoSource = attributeSource{selector: "video[src], video > source[src]", attr: "src", emptyOnFailure: true}
)

type lazySource struct {
	selector string
	attr     string
	srcset   bool
}

var lazySources = []lazySource{
	{selector: "img[data-src]", attr: "data-src"},
	{selector: "img[data-lazy-src]", attr: "data-lazy-src"},
	{selector: "img[data-original]", attr: "data-original"},
	{selector: "img[data-srcset]", attr: "data-srcset", srcset: true},
}

// registerPageResources registers the resources referenced by element
// attributes. Each reference is rewritten once its payload is known.
func (p *Processor) registerPageResources() {
	for _, src := range pageSources {
		p.registerAttribute(src)
	}
	p.registerSrcset("[srcset]", "srcset")
	if !p.opts.RemoveAudioSrc {
		p.registerAttribute(audioSource)
	}
	if !p.opts.RemoveVideoSrc {
		p.registerAttribute(videoSource)
	}
	if p.opts.LazyLoadImages {
		for _, ls := range lazySources {
			if ls.srcset {
				p.registerSrcset(ls.selector, ls.attr)
			} else {
				p.registerAttribute(attributeSource{selector: ls.selector, attr: ls.attr})
			}
		}
	}
}

// register returns the future of a reference, or nil when the reference
// is already embedded or points at the document itself.
func (p *Processor) register(ref string) *batch.Future {
	ref = resource.Normalize(strings.TrimSpace(ref))
	if ref == "" || ref == p.baseURI || !resource.IsEmbeddable(ref) {
		return nil
	}
	abs, ok := p.doc.Resolve(ref)
	if !ok {
		return nil
	}
	return p.session.Batch.Register(abs)
}

func (p *Processor) registerAttribute(src attributeSource) {
	for _, n := range p.doc.Find(src.selector).Nodes {
		v, ok := dom.Attr(n, src.attr)
		if !ok || v == "" {
			continue
		}
		future := p.register(v)
		if future == nil {
			continue
		}
		p.pending = append(p.pending, func(ctx context.Context) {
			payload, err := future.Wait(ctx)
			switch {
			case err == nil:
				dom.SetAttr(n, src.attr, payload)
			case src.emptyOnFailure:
				dom.SetAttr(n, src.attr, resource.EmptyDataURI)
			}
		})
	}
}

func (p *Processor) registerSrcset(selector, attr string) {
	for _, n := range p.doc.Find(selector).Nodes {
		v, _ := dom.Attr(n, attr)
		candidates := dom.ParseSrcset(v)
		if len(candidates) == 0 {
			continue
		}
		futures := make([]*batch.Future, len(candidates))
		registered := false
		for i, c := range candidates {
			futures[i] = p.register(c.URL)
			registered = registered || futures[i] != nil
		}
		if !registered {
			continue
		}
		p.pending = append(p.pending, func(ctx context.Context) {
			values := make([]string, len(candidates))
			for i, c := range candidates {
				if futures[i] == nil {
					values[i] = c.String()
					continue
				}
				if payload, err := futures[i].Wait(ctx); err == nil {
					c.URL = payload
				} else if abs, ok := p.doc.Resolve(c.URL); ok {
					c.URL = abs
				}
				values[i] = c.String()
			}
			dom.SetAttr(n, attr, strings.Join(values, ", "))
		})
	}
}

type scriptJob struct {
	node *html.Node
	text string
	ok   bool
}

// fetchScripts starts downloading external scripts; their text is inlined
// by Finalize. The src attribute is dropped whether or not the download
// succeeds.
func (p *Processor) fetchScripts(ctx context.Context) {
	var jobs []*scriptJob
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range p.doc.Find("script[src]").Nodes {
		job := &scriptJob{node: n}
		jobs = append(jobs, job)
		src, _ := dom.Attr(n, "src")
		abs, ok := p.doc.Resolve(src)
		if strings.TrimSpace(src) == "" || !ok {
			continue
		}
		p.stats.Add(Processed, Scripts, 1)
		g.Go(func() error {
			text, err := p.session.Batch.Text(gctx, abs, p.opts.MaxResourceBytes())
			if err != nil {
				p.logger.Debug("script unavailable", zap.String("src", abs), zap.Error(err))
				return nil
			}
			job.text, job.ok = closingScriptRe.ReplaceAllString(text, `<\/script>`), true
			return nil
		})
	}
	if len(jobs) == 0 {
		return
	}
	p.pending = append(p.pending, func(context.Context) {
		_ = g.Wait()
		for _, job := range jobs {
			if job.ok {
				setText(job.node, job.text)
			}
			dom.RemoveAttr(job.node, "src")
		}
	})
}
