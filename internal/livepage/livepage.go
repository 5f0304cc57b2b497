// Package livepage exposes fetched HTML documents as frame-tree windows.
// Same-origin frames are walked in place; cross-origin frames are loaded
// behind a frametree.Agent so that they are only reachable through the
// channel, as an isolated browsing context would be.
package livepage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/fetch"
	"github.com/adityalohuni/snapfile/internal/frametree"
	"github.com/adityalohuni/snapfile/internal/protocol"
	"github.com/adityalohuni/snapfile/internal/resource"
)

var (
	ErrTooDeep     = errors.New("livepage: frame nesting too deep")
	ErrUnsupported = errors.New("livepage: unsupported frame source")
)

const defaultMaxDepth = 8

type Options struct {
	Transport fetch.Transport
	// Channel carries requests to cross-origin frames.
	Channel  frametree.Channel
	MaxBytes int64
	MaxDepth int
	Logger   *zap.Logger
}

// Loader opens pages and owns the agents of their isolated frames.
type Loader struct {
	opts    Options
	counter atomic.Int64
}

func NewLoader(opts Options) *Loader {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = defaultMaxDepth
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Loader{opts: opts}
}

// Open parses content as the document at rawURL, fetching it when content
// is empty.
func (l *Loader) Open(ctx context.Context, rawURL, content string) (*Page, error) {
	return l.open(ctx, rawURL, content, 0)
}

// A fetched page that asks for its crawler variant is replaced by the
// escaped-fragment page when that one loads.
func (l *Loader) open(ctx context.Context, rawURL, content string, depth int) (*Page, error) {
	fetched := false
	if content == "" && rawURL != "" && rawURL != resource.AboutBlank {
		text, err := fetch.Text(ctx, l.opts.Transport, rawURL, l.opts.MaxBytes)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", rawURL, err)
		}
		content, fetched = text, true
	}
	doc, err := dom.Parse(content, rawURL)
	if err != nil {
		return nil, err
	}
	if fetched && doc.WantsEscapedFragment() {
		if escaped, ok := resource.EscapedFragmentURL(rawURL); ok {
			page, err := l.open(ctx, escaped, "", depth)
			if err == nil {
				l.opts.Logger.Debug("loaded escaped fragment page", zap.String("url", escaped))
				return page, nil
			}
			l.opts.Logger.Debug("escaped fragment page unavailable", zap.String("url", escaped), zap.Error(err))
		}
	}
	return &Page{loader: l, doc: doc, depth: depth}, nil
}

// Page is a Window over a parsed document.
type Page struct {
	loader *Loader
	depth  int

	mu  sync.Mutex
	doc *dom.Document
}

func (p *Page) Document() *dom.Document {
	return p.doc
}

func (p *Page) Frames(context.Context) ([]frametree.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var frames []frametree.Frame
	p.doc.Find(dom.FramesSelector).Each(func(_ int, s *goquery.Selection) {
		frames = append(frames, &frameElement{page: p, node: s.Get(0)})
	})
	return frames, nil
}

// Snapshot pre-processes the document, serializes it and restores it.
// Window id tags set on frames are part of the serialized content.
func (p *Page) Snapshot(_ context.Context, sid int64, opts *config.Options) (protocol.FrameData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if opts == nil {
		opts = config.Default()
	}
	markers := dom.Markers{SessionID: sid, RemoveHiddenElements: opts.RemoveHiddenElements, CompressHTML: opts.CompressHTML}
	snap := dom.PreProcess(p.doc, markers)
	content, err := p.doc.Serialize()
	dom.PostProcess(p.doc, markers)
	if err != nil {
		return protocol.FrameData{}, err
	}
	return protocol.FrameData{
		Content:             content,
		BaseURI:             p.doc.BaseURI(),
		Title:               p.doc.Title(),
		CanvasData:          snap.CanvasData,
		EmptyStyleRulesText: snap.EmptyStyleRulesText,
	}, nil
}

type frameElement struct {
	page *Page
	node *html.Node
}

func (f *frameElement) Tag(attr, windowID string) error {
	f.page.mu.Lock()
	defer f.page.mu.Unlock()
	dom.SetAttr(f.node, attr, windowID)
	return nil
}

func (f *frameElement) source() (srcdoc string, hasSrcdoc bool, src string) {
	f.page.mu.Lock()
	defer f.page.mu.Unlock()
	if f.node.Data == "iframe" {
		srcdoc, hasSrcdoc = dom.Attr(f.node, "srcdoc")
	}
	if f.node.Data == "object" {
		src, _ = dom.Attr(f.node, "data")
	} else {
		src, _ = dom.Attr(f.node, "src")
	}
	return srcdoc, hasSrcdoc, strings.TrimSpace(src)
}

func (f *frameElement) Open(ctx context.Context) (frametree.Target, error) {
	l := f.page.loader
	depth := f.page.depth + 1
	if depth > l.opts.MaxDepth {
		return frametree.Target{}, ErrTooDeep
	}

	srcdoc, hasSrcdoc, src := f.source()
	base := f.page.doc.BaseURI()
	if hasSrcdoc {
		page, err := l.open(ctx, base, orBlankDocument(srcdoc), depth)
		if err != nil {
			return frametree.Target{}, err
		}
		return frametree.Target{Window: page}, nil
	}
	if src == "" || src == resource.AboutBlank {
		page, err := l.open(ctx, resource.AboutBlank, "", depth)
		if err != nil {
			return frametree.Target{}, err
		}
		return frametree.Target{Window: page}, nil
	}

	target, ok := dom.ResolveURL(base, src)
	if !ok {
		return frametree.Target{}, fmt.Errorf("%w: %q", ErrUnsupported, src)
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return frametree.Target{}, fmt.Errorf("%w: %q", ErrUnsupported, target)
	}

	if sameOrigin(base, u) {
		page, err := l.open(ctx, target, "", depth)
		if err != nil {
			return frametree.Target{}, err
		}
		return frametree.Target{Window: page}, nil
	}

	addr := fmt.Sprintf("frame-%d", l.counter.Add(1))
	win := &isolatedPage{loader: l, url: target, depth: depth}
	frametree.NewAgent(win, addr, frametree.Options{Channel: l.opts.Channel, Logger: l.opts.Logger}).Start(ctx)
	l.opts.Logger.Debug("isolated frame", zap.String("url", target), zap.String("address", addr))
	return frametree.Target{Address: addr}, nil
}

func orBlankDocument(s string) string {
	if s == "" {
		return "<html><head></head><body></body></html>"
	}
	return s
}

func sameOrigin(base string, u *url.URL) bool {
	b, err := url.Parse(base)
	if err != nil {
		return false
	}
	return strings.EqualFold(b.Scheme, u.Scheme) && strings.EqualFold(b.Host, u.Host)
}

// isolatedPage loads its document on first use from inside an agent.
type isolatedPage struct {
	loader *Loader
	url    string
	depth  int

	once sync.Once
	page *Page
	err  error
}

func (w *isolatedPage) load(ctx context.Context) (*Page, error) {
	w.once.Do(func() {
		w.page, w.err = w.loader.open(ctx, w.url, "", w.depth)
	})
	return w.page, w.err
}

func (w *isolatedPage) Frames(ctx context.Context) ([]frametree.Frame, error) {
	page, err := w.load(ctx)
	if err != nil {
		return nil, err
	}
	return page.Frames(ctx)
}

func (w *isolatedPage) Snapshot(ctx context.Context, sid int64, opts *config.Options) (protocol.FrameData, error) {
	page, err := w.load(ctx)
	if err != nil {
		return protocol.FrameData{}, err
	}
	return page.Snapshot(ctx, sid, opts)
}
