package mcpserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/snapfile/internal/capture"
	"github.com/adityalohuni/snapfile/internal/fetch/fetchtest"
	"github.com/adityalohuni/snapfile/internal/page"
	"github.com/adityalohuni/snapfile/internal/service"
)

var testImpl = &mcp.Implementation{Name: "snapfile-test", Version: "0.1.0"}

func newSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	tr := fetchtest.New(map[string]fetchtest.Resource{
		"https://a.test/": fetchtest.HTML(`<html><head><title>Home</title><script>x()</script></head>` +
			`<body><p>Welcome</p><a href="/about">About us</a><img src="logo.png"></body></html>`),
		"https://a.test/logo.png": fetchtest.PNG("logo"),
	})
	svc := service.New(service.Options{
		Capturer: capture.New(capture.Options{Transport: tr}),
	})
	srv := New(svc, Options{Implementation: testImpl})

	ctx, cancel := context.WithCancel(context.Background())
	serverT, clientT := mcp.NewInMemoryTransports()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		session.Close()
		cancel()
	})
	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args any, out any) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "tool %s reported an error: %+v", name, result.Content)
	require.NotEmpty(t, result.Content)
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "expected text content")
	require.NoError(t, json.Unmarshal([]byte(tc.Text), out))
}

func TestCaptureTool(t *testing.T) {
	session := newSession(t)

	var out CaptureOutput
	callTool(t, session, "snapfile.capture", map[string]any{"url": "https://a.test/"}, &out)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, "Home", out.Title)
	assert.Equal(t, "snapfile://capture/"+out.ID, out.URI)
	assert.Positive(t, out.Size)
	require.NotNil(t, out.Stats)

	res, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: out.URI})
	require.NoError(t, err)
	require.Len(t, res.Contents, 1)
	assert.Equal(t, "text/html", res.Contents[0].MIMEType)
	assert.Contains(t, res.Contents[0].Text, "data:image/png;base64,")
	assert.NotContains(t, res.Contents[0].Text, "x()")

	latest, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: latestURI})
	require.NoError(t, err)
	assert.Equal(t, res.Contents[0].Text, latest.Contents[0].Text)
}

func TestCaptureToolKeepsScriptsWhenAsked(t *testing.T) {
	session := newSession(t)

	var out CaptureOutput
	callTool(t, session, "snapfile.capture", map[string]any{"url": "https://a.test/", "removeScripts": false}, &out)

	res, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: out.URI})
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, "x()")
}

func TestCaptureToolRequiresURL(t *testing.T) {
	session := newSession(t)

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "snapfile.capture",
		Arguments: map[string]any{"url": "  "},
	})
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSummaryAndListTools(t *testing.T) {
	session := newSession(t)

	var first, second CaptureOutput
	callTool(t, session, "snapfile.capture", map[string]any{"url": "https://a.test/"}, &first)
	callTool(t, session, "snapfile.capture", map[string]any{"url": "https://a.test/"}, &second)

	var sum page.Summary
	callTool(t, session, "snapfile.summary", map[string]any{"id": first.ID}, &sum)
	assert.Equal(t, first.ID, sum.ID)
	assert.Contains(t, sum.Text, "Welcome")
	require.Len(t, sum.Links, 1)
	assert.Equal(t, "About us", sum.Links[0].Text)
	assert.Equal(t, "https://a.test/about", sum.Links[0].Href)

	var latest page.Summary
	callTool(t, session, "snapfile.summary", map[string]any{}, &latest)
	assert.Equal(t, second.ID, latest.ID)

	var list ListOutput
	callTool(t, session, "snapfile.list", map[string]any{"limit": 1}, &list)
	require.Len(t, list.Captures, 1)
	assert.Equal(t, second.ID, list.Captures[0].ID)
}

func TestReadUnknownCapture(t *testing.T) {
	session := newSession(t)

	_, err := session.ReadResource(context.Background(), &mcp.ReadResourceParams{URI: "snapfile://capture/nope"})
	require.Error(t, err)
}
