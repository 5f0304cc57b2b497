package livepage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/dom"
	"github.com/adityalohuni/snapfile/internal/fetch/fetchtest"
	"github.com/adityalohuni/snapfile/internal/frametree"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const rootPage = `<html><head><title>Root</title></head><body>` +
	`<iframe src="/inner.html"></iframe>` +
	`<iframe src="https://b.test/x.html"></iframe>` +
	`<iframe srcdoc="<p>inline</p>"></iframe>` +
	`<iframe src="javascript:void(0)"></iframe>` +
	`</body></html>`

func TestCollectAcrossOrigins(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/":           fetchtest.HTML(rootPage),
		"https://a.test/inner.html": fetchtest.HTML(`<html><body><p>same origin</p></body></html>`),
		"https://b.test/x.html":     fetchtest.HTML(`<html><head><title>B</title></head><body><p>other origin</p></body></html>`),
	})
	bus := frametree.NewBus()
	loader := NewLoader(Options{Transport: tr, Channel: bus})

	ctx := context.Background()
	root, err := loader.Open(ctx, "https://a.test/", "")
	require.NoError(t, err)

	agg := frametree.New(frametree.Options{Channel: bus, Timeout: 2 * time.Second})
	frames, err := agg.Collect(ctx, root, 1, config.Default())
	require.NoError(t, err)
	require.Len(t, frames, 4)

	byID := map[string]int{}
	for i, f := range frames {
		byID[f.WindowID] = i
		assert.True(t, f.Processed, f.WindowID)
	}
	assert.Contains(t, frames[byID["0.0"]].Content, "same origin")
	assert.Equal(t, "https://a.test/inner.html", frames[byID["0.0"]].BaseURI)
	assert.Contains(t, frames[byID["0.1"]].Content, "other origin")
	assert.Equal(t, "B", frames[byID["0.1"]].Title)
	assert.False(t, frames[byID["0.1"]].Timeout)
	assert.Contains(t, frames[byID["0.2"]].Content, "<p>inline</p>")
	assert.Empty(t, frames[byID["0.3"]].Content)

	snap, err := root.Snapshot(ctx, 1, config.Default())
	require.NoError(t, err)
	assert.Contains(t, snap.Content, dom.WindowIDAttr(1)+`="0.1"`)
	assert.Equal(t, "Root", snap.Title)
	assert.Equal(t, 1, tr.Calls("https://b.test/x.html"))
}

func TestSnapshotRestoresDocument(t *testing.T) {
	loader := NewLoader(Options{Transport: fetchtest.New(nil)})
	page, err := loader.Open(context.Background(), "https://a.test/", `<html><head></head><body><p hidden="">x</p><canvas></canvas></body></html>`)
	require.NoError(t, err)

	snap, err := page.Snapshot(context.Background(), 9, config.Default())
	require.NoError(t, err)
	assert.Contains(t, snap.Content, dom.RemovedContentAttr(9))
	assert.Len(t, snap.CanvasData, 1)

	after, err := page.Document().Serialize()
	require.NoError(t, err)
	assert.NotContains(t, after, "data-snapfile-")
}

func TestSelfReferencingFramesStopAtMaxDepth(t *testing.T) {
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/loop": fetchtest.HTML(`<html><body><iframe src="/loop"></iframe></body></html>`),
	})
	loader := NewLoader(Options{Transport: tr, MaxDepth: 2})
	root, err := loader.Open(context.Background(), "https://a.test/loop", "")
	require.NoError(t, err)

	frames, err := frametree.New(frametree.Options{}).Collect(context.Background(), root, 1, config.Default())
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, "0.0.0.0", frames[0].WindowID)
	assert.Empty(t, frames[0].Content)
	assert.NotEmpty(t, frames[1].Content)
}

func TestOpenFollowsEscapedFragment(t *testing.T) {
	const app = `<html><head><meta name="fragment" content="!"><title>App</title></head><body></body></html>`
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/app?x=1":                     fetchtest.HTML(app),
		"https://a.test/app?x=1&_escaped_fragment_=": fetchtest.HTML(`<html><head><title>Static</title></head><body></body></html>`),
		"https://a.test/lonely":                      fetchtest.HTML(app),
	})
	loader := NewLoader(Options{Transport: tr})

	page, err := loader.Open(context.Background(), "https://a.test/app?x=1", "")
	require.NoError(t, err)
	assert.Equal(t, "Static", page.Document().Title())
	assert.Equal(t, "https://a.test/app?x=1&_escaped_fragment_=", page.Document().BaseURI())

	page, err = loader.Open(context.Background(), "https://a.test/lonely", "")
	require.NoError(t, err)
	assert.Equal(t, "App", page.Document().Title())
	assert.Equal(t, 1, tr.Calls("https://a.test/lonely?_escaped_fragment_="))

	page, err = loader.Open(context.Background(), "https://a.test/app?x=1", app)
	require.NoError(t, err)
	assert.Equal(t, "App", page.Document().Title())
}
