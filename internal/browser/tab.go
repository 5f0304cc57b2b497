package browser

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/frametree"
	"github.com/adityalohuni/snapfile/internal/protocol"
)

const blankDocument = "<html><head></head><body></body></html>"

// serializeJS reads the live document. Canvases are rasterized here since
// their pixels never reach the markup.
const serializeJS = `() => {
	const doctype = document.doctype ? new XMLSerializer().serializeToString(document.doctype) : "";
	const canvases = Array.from(document.querySelectorAll("canvas")).map(canvas => {
		try {
			return { dataURI: canvas.toDataURL("image/png", ""), width: canvas.clientWidth, height: canvas.clientHeight };
		} catch (error) {
			return null;
		}
	});
	return {
		url: document.baseURI,
		html: document.documentElement ? document.documentElement.outerHTML : "",
		doctype,
		canvases,
	};
}`

type liveDocument struct {
	URL      string                 `json:"url"`
	HTML     string                 `json:"html"`
	Doctype  string                 `json:"doctype"`
	Canvases []*protocol.CanvasData `json:"canvases"`
}

// Tab is a browser page or one of its frames. It implements
// frametree.Window; frames are reached directly through the DevTools
// session whatever their origin.
type Tab struct {
	page    *rod.Page
	browser *Browser
	depth   int
	owned   bool
}

// URL is the current location of the tab.
func (t *Tab) URL() string {
	info, err := t.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close closes the tab. Frames are owned by their tab and are left alone.
func (t *Tab) Close() error {
	if !t.owned {
		return nil
	}
	return t.page.Close()
}

func (t *Tab) Frames(ctx context.Context) ([]frametree.Frame, error) {
	elements, err := t.page.Context(ctx).Elements(dom.FramesSelector)
	if err != nil {
		return nil, fmt.Errorf("browser: list frames: %w", err)
	}
	frames := make([]frametree.Frame, len(elements))
	for i, el := range elements {
		frames[i] = &frameElement{el: el, tab: t}
	}
	return frames, nil
}

func (t *Tab) Snapshot(ctx context.Context, sid int64, opts *config.Options) (protocol.FrameData, error) {
	live, err := t.read(ctx)
	if err != nil {
		return protocol.FrameData{}, err
	}
	content := live.Doctype + live.HTML
	if live.HTML == "" {
		content = blankDocument
	}
	page, err := t.browser.loader.Open(ctx, live.URL, content)
	if err != nil {
		return protocol.FrameData{}, fmt.Errorf("browser: parse %s: %w", live.URL, err)
	}
	data, err := page.Snapshot(ctx, sid, opts)
	if err != nil {
		return protocol.FrameData{}, err
	}
	if len(live.Canvases) == len(data.CanvasData) {
		data.CanvasData = live.Canvases
	} else {
		t.browser.cfg.Logger.Debug("canvas count mismatch",
			zap.Int("live", len(live.Canvases)), zap.Int("parsed", len(data.CanvasData)))
	}
	return data, nil
}

func (t *Tab) read(ctx context.Context) (liveDocument, error) {
	res, err := t.page.Context(ctx).Eval(serializeJS)
	if err != nil {
		return liveDocument{}, fmt.Errorf("browser: serialize: %w", err)
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return liveDocument{}, fmt.Errorf("browser: serialize: %w", err)
	}
	var live liveDocument
	if err := json.Unmarshal(raw, &live); err != nil {
		return liveDocument{}, fmt.Errorf("browser: decode document: %w", err)
	}
	return live, nil
}

type frameElement struct {
	el  *rod.Element
	tab *Tab
}

func (f *frameElement) Tag(attr, windowID string) error {
	_, err := f.el.Eval(`(name, value) => this.setAttribute(name, value)`, attr, windowID)
	return err
}

func (f *frameElement) Open(ctx context.Context) (frametree.Target, error) {
	depth := f.tab.depth + 1
	if depth > f.tab.browser.cfg.MaxFrameDepth {
		return frametree.Target{}, fmt.Errorf("browser: frame nesting deeper than %d", f.tab.browser.cfg.MaxFrameDepth)
	}
	page, err := f.el.Context(ctx).Frame()
	if err != nil {
		return frametree.Target{}, fmt.Errorf("browser: open frame: %w", err)
	}
	return frametree.Target{Window: &Tab{page: page, browser: f.tab.browser, depth: depth}}, nil
}
