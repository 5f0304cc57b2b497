package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/adityalohuni/snapfile/internal/batch"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/fetch"
	"github.com/adityalohuni/snapfile/internal/fetch/fetchtest"
	"github.com/adityalohuni/snapfile/internal/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSession(tr fetch.Transport) *Session {
	return &Session{
		ID:    1,
		Batch: batch.New(tr, batch.Options{}),
		Now:   func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	}
}

// bareOptions disables every optional stage.
func bareOptions() *config.Options {
	return &config.Options{JSEnabled: true, DisplayStats: true}
}

func process(t *testing.T, s *Session, opts *config.Options, in Input) PageData {
	t.Helper()
	ctx := context.Background()
	p := New(s, opts, in)
	require.NoError(t, p.Load(ctx))
	require.NoError(t, p.Initialize(ctx))
	require.NoError(t, p.Prepare(ctx, nil))
	data, err := p.PageData()
	require.NoError(t, err)
	return data
}

func attrOf(t *testing.T, content, selector, attr string) string {
	t.Helper()
	doc, err := dom.Parse(content, "")
	require.NoError(t, err)
	v, ok := doc.Find(selector).First().Attr(attr)
	require.True(t, ok, "%s[%s]", selector, attr)
	return v
}

func TestSharedResourceFetchedOnceAndBrokenOneKept(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/img.png": fetchtest.PNG("x"),
	})
	opts := config.Default()
	opts.InsertFaviconLink = false
	opts.InsertSingleFileComment = false

	data := process(t, newSession(tr), opts, Input{
		URL:     "https://a.test/",
		Content: `<html><head></head><body><img src="img.png"><img src="/img.png"><img src="missing.png"></body></html>`,
	})

	assert.Equal(t, 1, tr.Calls("https://a.test/img.png"))
	assert.Equal(t, 2, strings.Count(data.Content, `src="data:image/png;base64,eA=="`))
	assert.Contains(t, data.Content, `<img src="missing.png"/>`)
	assert.Equal(t, 1, data.Stats.Get(Discarded, Resources))
	assert.Equal(t, 1, data.Stats.Get(Processed, Resources))
}

func TestImportsResolveTransitively(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/a.css": fetchtest.CSS(`@import url("b.css"); .a{color:red}`),
		"https://a.test/b.css": fetchtest.CSS(`.b{color:blue}`),
	})
	data := process(t, newSession(tr), bareOptions(), Input{
		URL:     "https://a.test/",
		Content: `<html><head><style>@import url("a.css");</style></head><body><p class="a b">x</p></body></html>`,
	})

	assert.NotContains(t, data.Content, "@import")
	assert.Contains(t, data.Content, "<style>.b{color:blue} .a{color:red}</style>")
	assert.Equal(t, 1, data.Stats.Get(Processed, StyleSheets))
}

func TestFailedImportIsDropped(t *testing.T) {
	tr := fetchtest.New(nil)
	data := process(t, newSession(tr), bareOptions(), Input{
		URL:     "https://a.test/",
		Content: `<html><head><style>@import url("gone.css"); .a{color:red}</style></head><body></body></html>`,
	})

	assert.NotContains(t, data.Content, "gone.css")
	assert.Contains(t, data.Content, ".a{color:red}</style>")
	assert.Equal(t, 1, tr.Calls("https://a.test/gone.css"))
	assert.Equal(t, 0, data.Stats.Get(Discarded, Resources))
}

func TestRepeatedTextResourcesFetchedOnce(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/a.css": fetchtest.CSS(`.a{color:red}`),
		"https://a.test/s.js":  fetchtest.JS(`go()`),
	})
	data := process(t, newSession(tr), bareOptions(), Input{
		URL: "https://a.test/",
		Content: `<html><head>` +
			`<link rel="stylesheet" href="a.css"><link rel="stylesheet" href="/a.css">` +
			`<style>@import "a.css";</style>` +
			`<script src="s.js"></script><script src="s.js"></script>` +
			`</head><body></body></html>`,
	})

	assert.Equal(t, 1, tr.Calls("https://a.test/a.css"))
	assert.Equal(t, 1, tr.Calls("https://a.test/s.js"))
	assert.Equal(t, 3, strings.Count(data.Content, ".a{color:red}"))
	assert.Equal(t, 2, strings.Count(data.Content, "<script>go()</script>"))
}

func TestLinkedStylesheetIsInlined(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/css/site.css": fetchtest.CSS(`body{background:url(../bg.png)}`),
		"https://a.test/bg.png":       fetchtest.PNG("b"),
	})
	data := process(t, newSession(tr), bareOptions(), Input{
		URL:     "https://a.test/",
		Content: `<html><head><link rel="stylesheet" href="css/site.css" media="print"><link rel="stylesheet" href="gone.css"></head><body></body></html>`,
	})

	assert.Contains(t, data.Content, "<style>@media print{ body{background:url(data:image/png;base64,Yg==)} }</style>")
	assert.Contains(t, data.Content, `<link rel="stylesheet" href="https://a.test/gone.css"/>`)
}

func TestScriptsAreInlinedAndEscaped(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/app.js": fetchtest.JS(`document.write("</SCRIPT>")`),
	})
	data := process(t, newSession(tr), bareOptions(), Input{
		URL:     "https://a.test/",
		Content: `<html><head><script src="app.js"></script><script src="gone.js"></script></head><body></body></html>`,
	})

	assert.Contains(t, data.Content, `<script>document.write("<\/script>")</script><script></script>`)
	assert.Equal(t, 2, data.Stats.Get(Processed, Scripts))
}

func TestScriptsRemoved(t *testing.T) {
	opts := bareOptions()
	opts.RemoveScripts = true
	data := process(t, newSession(fetchtest.New(nil)), opts, Input{
		URL:     "https://a.test/",
		Content: `<html><head><script src="app.js"></script><script type="application/ld+json">{}</script></head><body onclick="go()"></body></html>`,
	})
	assert.Equal(t, `<html><head><meta charset="utf-8"/><script type="application/ld+json">{}</script></head><body></body></html>`, data.Content)
	assert.Equal(t, 1, data.Stats.Get(Discarded, Scripts))
}

func TestFramesAreEmbedded(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://b.test/i.png": fetchtest.PNG("i"),
	})
	attr := dom.WindowIDAttr(1)
	data := process(t, newSession(tr), bareOptions(), Input{
		URL: "https://a.test/",
		Content: `<html><head></head><body>` +
			`<iframe id="f0" ` + attr + `="0.0" src="https://b.test/f.html"></iframe>` +
			`<iframe id="f1" ` + attr + `="0.1" src="https://c.test/"></iframe>` +
			`</body></html>`,
		Frames: []protocol.FrameData{
			{WindowID: "0.0", BaseURI: "https://b.test/f.html", Content: `<html><head></head><body><img src="i.png"></body></html>`, Processed: true},
			{WindowID: "0.1", Processed: true, Timeout: true},
		},
	})

	srcdoc := attrOf(t, data.Content, "#f0", "srcdoc")
	assert.Contains(t, srcdoc, `<img src="data:image/png;base64,aQ=="/>`)
	assert.Equal(t, "", attrOf(t, data.Content, "#f1", "srcdoc"))
	assert.Equal(t, "", attrOf(t, data.Content, "#f1", "sandbox"))
	assert.NotContains(t, data.Content, attr)
	assert.NotContains(t, data.Content, "https://c.test/")

	assert.Equal(t, 1, data.Stats.Get(Processed, Frames))
	assert.Equal(t, 1, data.Stats.Get(Discarded, Frames))
	assert.Equal(t, 1, data.Stats.Get(Processed, Resources))
}

func TestHTMLImports(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/imp.html": fetchtest.HTML(`<html><head></head><body><p>imported</p></body></html>`),
	})
	data := process(t, newSession(tr), bareOptions(), Input{
		URL:     "https://a.test/",
		Content: `<html><head><link id="ok" rel="import" href="imp.html"><link id="ko" rel="import" href="missing.html"></head><body></body></html>`,
	})

	href := attrOf(t, data.Content, "#ok", "href")
	assert.True(t, strings.HasPrefix(href, "data:text/html,<html>"))
	assert.Contains(t, href, "<p>imported</p>")
	assert.Equal(t, "data:base64,", attrOf(t, data.Content, "#ko", "href"))
	assert.Equal(t, 1, data.Stats.Get(Processed, Imports))
	assert.Equal(t, 1, data.Stats.Get(Discarded, Imports))
}

func TestCanvasReplacedByImage(t *testing.T) {
	data := process(t, newSession(fetchtest.New(nil)), bareOptions(), Input{
		URL:     "https://a.test/",
		Content: `<html><head></head><body><canvas id="c" width="30"></canvas><canvas id="d"></canvas></body></html>`,
		CanvasData: []*protocol.CanvasData{
			{DataURI: "data:image/png;base64,AA==", Width: 30, Height: 20},
			nil,
		},
	})

	assert.Contains(t, data.Content, `<img src="data:image/png;base64,AA==" id="c" width="30" style="height: 20px;"/><canvas id="d"></canvas>`)
	assert.Equal(t, 1, data.Stats.Get(Processed, Canvas))
}

func TestRoundTripWithoutExternalReferences(t *testing.T) {
	in := `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"/><title>T</title><style>p{color:red}</style></head>` +
		`<body><p class="x">Hello <b>world</b></p><a href="#top">top</a></body></html>`
	data := process(t, newSession(fetchtest.New(nil)), bareOptions(), Input{URL: "https://a.test/", Content: in})
	assert.Equal(t, in, data.Content)
	assert.Equal(t, "T", data.Title)
}

func TestCharsetIsCanonicalized(t *testing.T) {
	data := process(t, newSession(fetchtest.New(nil)), bareOptions(), Input{
		URL:     "https://a.test/",
		Content: `<html><head><title>T</title><meta http-equiv="Content-Type" content="text/html; charset=iso-8859-1"></head><body>x</body></html>`,
	})
	assert.Equal(t, `<html><head><meta charset="utf-8"/><title>T</title></head><body>x</body></html>`, data.Content)
}

func TestSelectedRegionIsIsolated(t *testing.T) {
	opts := bareOptions()
	opts.Selected = true
	data := process(t, newSession(fetchtest.New(nil)), opts, Input{
		URL: "https://a.test/",
		Content: `<html><head><style>p{}</style></head><body><div>skip</div>` +
			`<section ` + dom.SelectedContentRootAttr + `="" ` + dom.SelectedContentAttr + `=""><p ` + dom.SelectedContentAttr + `="">keep</p><p>drop</p></section>` +
			`<footer>f</footer></body></html>`,
	})
	assert.Equal(t, `<html><head><meta charset="utf-8"/><style>p{}</style></head><body><section><p>keep</p></section></body></html>`, data.Content)
}

func TestNoscriptContentsInlinedWithoutJavaScript(t *testing.T) {
	opts := bareOptions()
	opts.JSEnabled = false
	data := process(t, newSession(fetchtest.New(nil)), opts, Input{
		URL:     "https://a.test/",
		Content: `<html><head></head><body><noscript><img src="https://n.test/n.png"></noscript></body></html>`,
	})
	assert.Contains(t, data.Content, `<body><img src="https://n.test/n.png"/></body>`)
}

func TestHiddenElementsRemoved(t *testing.T) {
	opts := bareOptions()
	opts.RemoveHiddenElements = true
	removed := dom.RemovedContentAttr(1)
	data := process(t, newSession(fetchtest.New(nil)), opts, Input{
		URL:     "https://a.test/",
		Content: `<html><head></head><body><p ` + removed + `="">a</p><p>b</p><div ` + removed + `=""></div></body></html>`,
	})
	assert.Contains(t, data.Content, "<body><p>b</p></body>")
	assert.Equal(t, 2, data.Stats.Get(Discarded, HiddenElements))
}

func TestSrcsetCandidates(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/a.png": fetchtest.PNG("a"),
	})
	data := process(t, newSession(tr), bareOptions(), Input{
		URL:     "https://a.test/",
		Content: `<html><head></head><body>` +
			`<img id="i" srcset="a.png 1x, data:image/png;base64,AA== 2x, missing.png 3x">` +
			`<img id="j" srcset="missing.png 1x, a.png 2x">` +
			`</body></html>`,
	})
	assert.Equal(t, "data:image/png;base64,YQ== 1x, data:image/png;base64,AA== 2x, https://a.test/missing.png 3x", attrOf(t, data.Content, "#i", "srcset"))
	assert.Equal(t, "https://a.test/missing.png 1x, data:image/png;base64,YQ== 2x", attrOf(t, data.Content, "#j", "srcset"))
}

func TestLazyLoadedImages(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/a.png": fetchtest.PNG("a"),
	})
	opts := bareOptions()
	opts.LazyLoadImages = true
	data := process(t, newSession(tr), opts, Input{
		URL:     "https://a.test/",
		Content: `<html><head></head><body><img id="i" data-src="a.png"></body></html>`,
	})
	assert.Contains(t, data.Content, `<img id="i" src="data:image/png;base64,YQ==" loading="lazy"/>`)
}

func TestCommentAndFavicon(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/favicon.ico": {ContentType: "image/x-icon", Body: "ico"},
	})
	data := process(t, newSession(tr), config.Default(), Input{
		URL:     "https://a.test/",
		Content: `<html><head></head><body><p>x</p></body></html>`,
	})

	assert.True(t, strings.HasPrefix(data.Content, "<html><!--\n Archive processed by snapfile \n url: https://a.test/ \n saved date: Tue Jan 02 2024 03:04:05 GMT+0000 (UTC) \n-->"))
	assert.Contains(t, data.Content, `<link type="image/x-icon" rel="shortcut icon" href="data:image/x-icon;base64,aWNv"/>`)
}

func TestFailedFaviconIsEmptied(t *testing.T) {
	opts := bareOptions()
	opts.InsertFaviconLink = true
	data := process(t, newSession(fetchtest.New(nil)), opts, Input{
		URL:     "https://a.test/",
		Content: `<html><head></head><body></body></html>`,
	})
	assert.Contains(t, data.Content, `href="data:base64,"`)
}

func TestEscapedFragmentReload(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/app":                      fetchtest.HTML(`<html><head><meta name="fragment" content="!"></head><body></body></html>`),
		"https://a.test/app?_escaped_fragment_=": fetchtest.HTML(`<html><head><title>Crawlable</title></head><body></body></html>`),
	})
	data := process(t, newSession(tr), bareOptions(), Input{URL: "https://a.test/app"})
	assert.Equal(t, "Crawlable", data.Title)
}

func TestTitleFallbacks(t *testing.T) {
	cases := map[string]string{
		"https://a.test/dir/page.html?x=1": "page",
		"https://a.test/":                  "a.test",
		"https://a.test/dir/":              "a.test",
		"about:blank":                      "Untitled page",
	}
	for u, want := range cases {
		p := New(newSession(fetchtest.New(nil)), bareOptions(), Input{URL: u, Content: "<p>x</p>"})
		require.NoError(t, p.Load(context.Background()))
		assert.Equal(t, want, p.title(), u)
	}
}

func TestPrepareRequiresInitialize(t *testing.T) {
	p := New(newSession(fetchtest.New(nil)), bareOptions(), Input{URL: "https://a.test/", Content: "<p>x</p>"})
	assert.ErrorIs(t, p.Prepare(context.Background(), nil), ErrNotInitialized)
	assert.ErrorIs(t, p.Initialize(context.Background()), ErrNotLoaded)
}

func TestStatsDisabled(t *testing.T) {
	opts := bareOptions()
	opts.DisplayStats = false
	data := process(t, newSession(fetchtest.New(nil)), opts, Input{URL: "https://a.test/", Content: "<p>x</p>"})
	assert.Nil(t, data.Stats)
	assert.Equal(t, 0, data.Stats.Get(Processed, HTMLBytes))
}

func TestStatsAddAll(t *testing.T) {
	parent, child := NewStats(true), NewStats(true)
	parent.Add(Processed, CSSRules, 2)
	child.Add(Processed, CSSRules, 3)
	child.Add(Discarded, Frames, 1)
	parent.AddAll(child)
	assert.Equal(t, 5, parent.Get(Processed, CSSRules))
	assert.Equal(t, 1, parent.Get(Discarded, Frames))
}
