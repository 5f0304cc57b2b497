package page

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePersistsArchives(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)

	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	first, err := s.Put(Archive{URL: "https://a.test/", Title: "A", CreatedAt: base}, "<html>a</html>")
	require.NoError(t, err)
	second, err := s.Put(Archive{URL: "https://b.test/", CreatedAt: base.Add(time.Minute)}, "<html>bb</html>")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, len("<html>a</html>"), first.Size)

	reopened, err := NewStore(dir)
	require.NoError(t, err)
	list := reopened.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	latest, ok := reopened.Latest()
	require.True(t, ok)
	assert.Equal(t, second.ID, latest.ID)

	content, err := reopened.Content(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "<html>a</html>", content)

	_, err = reopened.Content("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreCompactKeepsNewest(t *testing.T) {
	s, err := NewStore("")
	require.NoError(t, err)
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	var ids []string
	for i := range 3 {
		a, err := s.Put(Archive{URL: "https://a.test/", CreatedAt: base.Add(time.Duration(i) * time.Second)}, "x")
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	removed, err := s.Compact(2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, s.Count())
	_, ok := s.Get(ids[0])
	assert.False(t, ok)
	_, err = s.Content(ids[0])
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSummarizeReadsFramesAndLinks(t *testing.T) {
	content := `<html><head><style>p{}</style></head><body>` +
		`<h1>Hello</h1> <a href="https://x.test/">Next   page</a> <a href="#top">top</a> ` +
		`<img src="data:image/png;base64,AA==">` +
		`<iframe srcdoc="&lt;p&gt;inside &lt;a href=&#34;https://y.test/&#34;&gt;y&lt;/a&gt;&lt;/p&gt;"></iframe>` +
		`<script>var hidden = 1</script></body></html>`

	sum, err := Summarize(Archive{ID: "1", URL: "https://a.test/", Title: "A"}, content, SummaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hello Next page top inside y", sum.Text)
	assert.Equal(t, []Link{{Text: "Next page", Href: "https://x.test/"}, {Text: "y", Href: "https://y.test/"}}, sum.Links)
	assert.Equal(t, 1, sum.Frames)
	assert.Equal(t, 1, sum.Embedded)
	assert.False(t, sum.Truncated)

	short, err := Summarize(Archive{}, content, SummaryOptions{MaxText: 5})
	require.NoError(t, err)
	assert.Equal(t, "Hello", short.Text)
	assert.True(t, short.Truncated)

	titled, err := Summarize(Archive{}, `<html><head><title> Saved </title></head><body>x</body></html>`, SummaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Saved", titled.Title)
}
