package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/adityalohuni/snapfile/internal/fetch"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingTransport struct {
	mu     sync.Mutex
	calls  map[string]int
	bodies map[string]string
}

func newCountingTransport(bodies map[string]string) *countingTransport {
	return &countingTransport{calls: make(map[string]int), bodies: bodies}
}

func (c *countingTransport) Get(_ context.Context, rawURL string, _ int64) (*fetch.Response, error) {
	c.mu.Lock()
	c.calls[rawURL]++
	c.mu.Unlock()
	body, ok := c.bodies[rawURL]
	if !ok {
		return nil, errors.New("not found")
	}
	return &fetch.Response{URL: rawURL, ContentType: "text/plain", Body: []byte(body)}, nil
}

func (c *countingTransport) count(u string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[u]
}

func TestDrainFetchesEachURLOnce(t *testing.T) {
	tr := newCountingTransport(map[string]string{"https://a.test/x.png": "x"})
	c := New(tr, Options{})

	first := c.Register("https://a.test/x.png")
	second := c.Register("https://a.test/x.png")
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, 0, tr.count("https://a.test/x.png"))

	var events []Progress
	summary, err := c.Drain(context.Background(), func(p Progress) { events = append(events, p) }, Limits{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 1}, summary)
	assert.Equal(t, 1, tr.count("https://a.test/x.png"))
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Index)
	assert.Equal(t, 1, events[0].Max)

	a, err := first.Wait(context.Background())
	require.NoError(t, err)
	b, err := second.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "data:text/plain;base64,eA==", a)
	assert.Equal(t, a, b)
	assert.Equal(t, 0, c.Pending())
}

func TestDrainDeliversFailuresToEveryWaiter(t *testing.T) {
	tr := newCountingTransport(map[string]string{"https://a.test/ok": "ok"})
	c := New(tr, Options{})

	ok := c.Register("https://a.test/ok")
	broken := []*Future{c.Register("https://a.test/broken"), c.Register("https://a.test/broken")}

	summary, err := c.Drain(context.Background(), nil, Limits{})
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 2, Failed: 1}, summary)

	_, err = ok.Wait(context.Background())
	require.NoError(t, err)
	for _, f := range broken {
		_, err := f.Wait(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, 1, tr.count("https://a.test/broken"))
}

func TestProgressIndicesAreSequential(t *testing.T) {
	bodies := map[string]string{}
	for _, u := range []string{"https://a.test/1", "https://a.test/2", "https://a.test/3", "https://a.test/4"} {
		bodies[u] = u
	}
	c := New(newCountingTransport(bodies), Options{})
	for u := range bodies {
		c.Register(u)
	}

	var indices []int
	_, err := c.Drain(context.Background(), func(p Progress) {
		assert.Equal(t, 4, p.Max)
		indices = append(indices, p.Index)
	}, Limits{Concurrency: 2})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, indices)
}

func TestRegisterAfterDrainNeedsAnotherPass(t *testing.T) {
	tr := newCountingTransport(map[string]string{"https://a.test/x": "x"})
	c := New(tr, Options{})

	_, err := c.Drain(context.Background(), nil, Limits{})
	require.NoError(t, err)

	f := c.Register("https://a.test/x")
	select {
	case <-f.Done():
		t.Fatal("future resolved without a drain")
	default:
	}
	_, err = c.Drain(context.Background(), nil, Limits{})
	require.NoError(t, err)
	_, err = f.Wait(context.Background())
	require.NoError(t, err)
}

func TestWaitHonorsContext(t *testing.T) {
	c := New(newCountingTransport(nil), Options{})
	f := c.Register("https://a.test/never")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTextFetchedOncePerSession(t *testing.T) {
	tr := newCountingTransport(map[string]string{"https://a.test/a.css": "p{}"})
	c := New(tr, Options{})

	var wg sync.WaitGroup
	texts := make([]string, 8)
	for i := range texts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			texts[i], _ = c.Text(context.Background(), "https://a.test/a.css", 0)
		}()
	}
	wg.Wait()
	later, err := c.Text(context.Background(), "https://a.test/a.css", 0)
	require.NoError(t, err)

	assert.Equal(t, "p{}", later)
	for _, text := range texts {
		assert.Equal(t, "p{}", text)
	}
	assert.Equal(t, 1, tr.count("https://a.test/a.css"))

	_, err = c.Text(context.Background(), "https://a.test/gone.css", 0)
	require.Error(t, err)
	_, err = c.Text(context.Background(), "https://a.test/gone.css", 0)
	require.Error(t, err)
	assert.Equal(t, 1, tr.count("https://a.test/gone.css"))
	assert.Equal(t, 0, c.Pending())
}

func TestTextCanceledIsNotKept(t *testing.T) {
	tr := newCountingTransport(map[string]string{"https://a.test/a.js": "x()"})
	c := New(tr, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = c.Text(ctx, "https://a.test/a.js", 0)

	text, err := c.Text(context.Background(), "https://a.test/a.js", 0)
	require.NoError(t, err)
	assert.Equal(t, "x()", text)
}
