// Package pipeline turns one document into its self-contained form. A
// Processor runs in two phases: Initialize rewrites the document and
// registers every external resource with the session's coalescer, and
// Finalize embeds the fetched payloads once the coalescer has drained.
// Nested documents (frames and HTML imports) get child Processors that
// follow the same two phases inside their parent's.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/adityalohuni/snapfile/internal/batch"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/protocol"
	"github.com/adityalohuni/snapfile/internal/resource"
)

var (
	ErrNotLoaded      = errors.New("pipeline: document not loaded")
	ErrNotInitialized = errors.New("pipeline: document not initialized")
)

const untitled = "Untitled page"

var (
	titleFromPathRe = regexp.MustCompile(`([^/]*)/?(\.html?.*)$`)
	titleFromHostRe = regexp.MustCompile(`//([^/]*)/?$`)
)

// Session is the state shared by every Processor of one capture.
type Session struct {
	ID int64
	// Batch fetches every resource and text of the session once.
	Batch *batch.Coalescer
	// Concurrency bounds parallel fetches of a drain pass; 0 is unbounded.
	Concurrency int
	Logger      *zap.Logger
	Now         func() time.Time
}

func (s *Session) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Input is what is known about a document before it is loaded.
type Input struct {
	URL                 string
	Content             string
	CanvasData          []*protocol.CanvasData
	EmptyStyleRulesText []string
	// Frames is the aggregated frame tree of the capture.
	Frames []protocol.FrameData
}

// PageData is the serialized result of a Processor.
type PageData struct {
	Title   string
	Content string
	Stats   *Stats
}

type applier func(ctx context.Context)

type Processor struct {
	session *Session
	opts    *config.Options
	input   Input
	logger  *zap.Logger

	baseURI string
	escaped bool
	doc     *dom.Document
	stats   *Stats

	initialized bool
	pending     []applier
	frames      map[*html.Node]*Processor
	imports     map[*html.Node]*Processor
}

func New(session *Session, opts *config.Options, in Input) *Processor {
	if opts == nil {
		opts = config.Default()
	}
	if in.URL == "" {
		in.URL = opts.URL
	}
	logger := session.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		session: session,
		opts:    opts,
		input:   in,
		logger:  logger.With(zap.String("url", in.URL)),
		baseURI: resource.Normalize(in.URL),
		stats:   NewStats(opts.DisplayStats),
		frames:  make(map[*html.Node]*Processor),
		imports: make(map[*html.Node]*Processor),
	}
}

func (p *Processor) Stats() *Stats { return p.stats }

func (p *Processor) Document() *dom.Document { return p.doc }

func (p *Processor) markers() dom.Markers {
	return dom.Markers{
		SessionID:            p.session.ID,
		RemoveHiddenElements: p.opts.RemoveHiddenElements,
		CompressHTML:         p.opts.CompressHTML,
	}
}

// Load parses the supplied content, or fetches the document when there is
// none or the raw page is wanted. A fetched page that asks for its crawler
// variant is reloaded from the escaped-fragment URL once.
func (p *Processor) Load(ctx context.Context) error {
	content := p.input.Content
	fetched := false
	if content == "" || p.opts.SaveRawPage {
		text, err := p.session.Batch.Text(ctx, p.baseURI, p.opts.MaxResourceBytes())
		if err != nil {
			return fmt.Errorf("pipeline: load %s: %w", p.baseURI, err)
		}
		content, fetched = text, true
	}
	doc, err := dom.Parse(content, p.baseURI)
	if err != nil {
		return fmt.Errorf("pipeline: parse %s: %w", p.baseURI, err)
	}
	if fetched && !p.escaped && doc.WantsEscapedFragment() {
		if escaped, ok := resource.EscapedFragmentURL(p.baseURI); ok {
			p.baseURI = escaped
			p.escaped = true
			p.input.Content = ""
			p.logger.Debug("loading escaped fragment page", zap.String("escaped_url", escaped))
			return p.Load(ctx)
		}
	}
	p.doc = doc
	return nil
}

// Initialize runs every rewrite that does not need fetched payloads and
// registers the document's resources with the session's coalescer.
func (p *Processor) Initialize(ctx context.Context) error {
	if p.doc == nil {
		return ErrNotLoaded
	}
	p.removeUIElements()
	p.replaceEmptyStyles()
	if p.opts.InlineNoscript() {
		p.insertNoscriptContents()
	}
	if p.opts.RemoveFrames {
		p.removeAll(dom.FramesSelector, Frames)
	}
	if p.opts.RemoveImports {
		p.removeAll(importsSelector, Imports)
	}
	if p.opts.RemoveScripts {
		p.removeAll(scriptsSelector, Scripts)
	}
	p.removeDiscardedResources()
	p.resetCharsetMeta()
	if p.opts.CompressHTML {
		p.compressHTML(false)
	}
	if p.opts.InsertFaviconLink {
		p.insertFaviconLink()
	}
	p.resolveHrefs()
	p.replaceCanvasElements()
	if p.opts.RemoveHiddenElements {
		p.removeHiddenElements()
	}

	if err := p.resolveStylesheets(ctx); err != nil {
		return err
	}
	if p.opts.RemoveUnusedStyles {
		rs := dom.RemoveUnusedRules(p.doc)
		p.stats.Set(Processed, CSSRules, rs.Processed)
		p.stats.Set(Discarded, CSSRules, rs.Discarded)
	}
	if !p.opts.RemoveImports {
		if err := p.initImports(ctx); err != nil {
			return err
		}
	}
	if p.opts.CompressHTML {
		p.compressHTML(false)
	}
	if p.opts.RemoveAlternativeFonts {
		dom.RemoveAlternativeFonts(p.doc, false)
	}
	if p.opts.CompressCSS {
		p.compressCSS()
	}

	p.registerStyleElements()
	p.registerStyleAttributes()
	p.registerPageResources()
	if !p.opts.RemoveScripts {
		p.fetchScripts(ctx)
	}
	p.initialized = true
	return ctx.Err()
}

// RegisteredResources is the number of URLs waiting for the next drain.
func (p *Processor) RegisteredResources() int {
	return p.session.Batch.Pending()
}

// Prepare drains the session's coalescer and finalizes the document. Only
// the top-level Processor of a session calls it; nested ones are finalized
// by their parent.
func (p *Processor) Prepare(ctx context.Context, progress func(batch.Progress)) error {
	if !p.initialized {
		return ErrNotInitialized
	}
	summary, err := p.session.Batch.Drain(ctx, progress, batch.Limits{
		MaxBytes:    p.opts.MaxResourceBytes(),
		Concurrency: p.session.Concurrency,
	})
	if err != nil {
		return err
	}
	p.stats.Set(Processed, Resources, summary.Total-summary.Failed)
	p.stats.Set(Discarded, Resources, summary.Failed)
	return p.Finalize(ctx)
}

// Finalize embeds the resolved resources and nested documents. Every future
// registered by Initialize must be resolvable, i.e. the coalescer must have
// drained since.
func (p *Processor) Finalize(ctx context.Context) error {
	if !p.initialized {
		return ErrNotInitialized
	}
	for _, apply := range p.pending {
		apply(ctx)
	}
	p.pending = nil
	if err := ctx.Err(); err != nil {
		return err
	}

	if p.opts.LazyLoadImages {
		p.lazyLoadImages()
	}
	if p.opts.RemoveAlternativeFonts {
		dom.RemoveAlternativeFonts(p.doc, true)
		if p.opts.CompressCSS {
			p.compressCSS()
		}
	}
	if !p.opts.RemoveFrames && len(p.input.Frames) > 0 {
		p.finalizeFrames(ctx)
	}
	if !p.opts.RemoveImports {
		p.finalizeImports(ctx)
	}
	if p.opts.CompressHTML {
		p.compressHTML(true)
	}
	if p.opts.InsertSingleFileComment {
		p.insertComment()
	}
	p.removeDefaultHeadTags()
	return ctx.Err()
}

// PageData restores the markers set before capture, isolates the selected
// region if any and serializes the document.
func (p *Processor) PageData() (PageData, error) {
	if p.doc == nil {
		return PageData{}, ErrNotLoaded
	}
	dom.PostProcess(p.doc, p.markers())
	if p.opts.Selected {
		if root := p.doc.Find("[" + dom.SelectedContentRootAttr + "]").First(); root.Length() > 0 {
			n := root.Get(0)
			isolate(n)
			dom.RemoveAttr(n, dom.SelectedContentRootAttr)
			dom.RemoveAttr(n, dom.SelectedContentAttr)
		}
	}

	size := 0
	if p.stats != nil {
		size = p.doc.ContentSize()
	}
	content, err := p.doc.Serialize()
	if err != nil {
		return PageData{}, err
	}
	p.stats.Set(Processed, HTMLBytes, len(content))
	p.stats.Add(Discarded, HTMLBytes, size-len(content))

	return PageData{Title: p.title(), Content: content, Stats: p.stats}, nil
}

func (p *Processor) title() string {
	if t := p.doc.Title(); t != "" {
		return t
	}
	if p.baseURI != "" {
		if m := titleFromPathRe.FindStringSubmatch(p.baseURI); m != nil {
			return m[1]
		}
		if m := titleFromHostRe.FindStringSubmatch(p.baseURI); m != nil {
			return m[1]
		}
	}
	if u, err := url.Parse(p.baseURI); err == nil && u.Hostname() != "" {
		return u.Hostname()
	}
	return untitled
}

// child creates the Processor of a nested document.
func (p *Processor) child(in Input) *Processor {
	opts := config.DeriveChild(p.opts, config.WithURL(in.URL))
	return New(p.session, opts, in)
}
