package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/protocol"
	"github.com/adityalohuni/snapfile/internal/resource"
)

const (
	importLinkSelector = "link[rel=import][href]"
	emptyHTMLDataURI   = "data:text/html,"
)

type frameJob struct {
	node     *html.Node
	windowID string
	child    *Processor
	err      error
}

func (p *Processor) frameData(windowID string) (protocol.FrameData, bool) {
	for _, fd := range p.input.Frames {
		if fd.WindowID == windowID {
			return fd, true
		}
	}
	return protocol.FrameData{}, false
}

// prepareFrames empties and sandboxes every frame element and creates a
// child Processor for each frame whose content was collected.
func (p *Processor) prepareFrames() []*frameJob {
	attr := dom.WindowIDAttr(p.session.ID)
	var jobs []*frameJob
	for _, n := range p.doc.Find(dom.FramesSelector).Nodes {
		setFrameEmptySrc(n)
		dom.SetAttr(n, "sandbox", "")
		id, ok := dom.Attr(n, attr)
		if !ok {
			continue
		}
		fd, ok := p.frameData(id)
		if !ok || fd.Content == "" {
			continue
		}
		child := p.child(Input{
			URL:                 fd.BaseURI,
			Content:             fd.Content,
			CanvasData:          fd.CanvasData,
			EmptyStyleRulesText: fd.EmptyStyleRulesText,
			Frames:              p.input.Frames,
		})
		jobs = append(jobs, &frameJob{node: n, windowID: id, child: child})
	}
	return jobs
}

// finalizeFrames embeds the serialized content of every initialized frame.
// A frame that fails is counted as discarded and stays empty.
func (p *Processor) finalizeFrames(ctx context.Context) {
	attr := dom.WindowIDAttr(p.session.ID)
	for _, n := range p.doc.Find(dom.FramesSelector).Nodes {
		setFrameEmptySrc(n)
		dom.SetAttr(n, "sandbox", "")
		id, ok := dom.Attr(n, attr)
		if !ok {
			continue
		}
		if _, known := p.frameData(id); !known {
			continue
		}
		child := p.frames[n]
		if child == nil {
			p.stats.Add(Discarded, Frames, 1)
			continue
		}
		data, err := finalizeChild(ctx, child)
		if err != nil {
			p.logger.Debug("frame finalization failed", zap.String("window", id), zap.Error(err))
			p.stats.Add(Discarded, Frames, 1)
			continue
		}
		p.stats.Add(Processed, Frames, 1)
		dom.RemoveAttr(n, attr)
		setFrameContent(n, data.Content)
		p.stats.AddAll(data.Stats)
	}
	clear(p.frames)
}

func finalizeChild(ctx context.Context, child *Processor) (PageData, error) {
	if err := child.Finalize(ctx); err != nil {
		return PageData{}, err
	}
	return child.PageData()
}

// initImports loads and initializes a child Processor per HTML import.
func (p *Processor) initImports(ctx context.Context) error {
	type importJob struct {
		node  *html.Node
		child *Processor
		err   error
	}
	var jobs []*importJob
	for _, n := range p.doc.Find(importLinkSelector).Nodes {
		href, _ := dom.Attr(n, "href")
		ref := resource.Normalize(href)
		if ref == "" || ref == p.baseURI || !resource.IsEmbeddable(ref) {
			continue
		}
		abs, ok := p.doc.Resolve(href)
		if !ok {
			continue
		}
		jobs = append(jobs, &importJob{node: n, child: p.child(Input{URL: abs})})
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, job := range jobs {
		g.Go(func() error {
			job.err = job.child.Load(gctx)
			if job.err == nil {
				job.err = job.child.Initialize(gctx)
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, job := range jobs {
		if job.err != nil {
			p.logger.Debug("import initialization failed", zap.String("href", job.child.baseURI), zap.Error(job.err))
			continue
		}
		p.imports[job.node] = job.child
	}
	return nil
}

func (p *Processor) finalizeImports(ctx context.Context) {
	for _, n := range p.doc.Find(importLinkSelector).Nodes {
		dom.SetAttr(n, "href", resource.EmptyDataURI)
		child := p.imports[n]
		if child == nil {
			p.stats.Add(Discarded, Imports, 1)
			continue
		}
		data, err := finalizeChild(ctx, child)
		if err != nil {
			p.logger.Debug("import finalization failed", zap.Error(err))
			p.stats.Add(Discarded, Imports, 1)
			continue
		}
		p.stats.Add(Processed, Imports, 1)
		dom.SetAttr(n, "href", emptyHTMLDataURI+data.Content)
		p.stats.AddAll(data.Stats)
	}
	clear(p.imports)
}

func setFrameEmptySrc(n *html.Node) {
	if n.Data == "object" {
		dom.SetAttr(n, "data", emptyHTMLDataURI)
		return
	}
	dom.SetAttr(n, "srcdoc", "")
	dom.RemoveAttr(n, "src")
}

func setFrameContent(n *html.Node, content string) {
	if n.Data == "object" {
		dom.SetAttr(n, "data", emptyHTMLDataURI+content)
		return
	}
	dom.SetAttr(n, "srcdoc", content)
	dom.RemoveAttr(n, "src")
}
