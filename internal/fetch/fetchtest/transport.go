// Package fetchtest provides an in-memory fetch.Transport for tests.
package fetchtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/adityalohuni/snapfile/internal/fetch"
)

// Resource is a canned response body and its content type.
type Resource struct {
	ContentType string
	Body        string
}

func HTML(body string) Resource { return Resource{ContentType: "text/html; charset=utf-8", Body: body} }
func CSS(body string) Resource  { return Resource{ContentType: "text/css", Body: body} }
func JS(body string) Resource   { return Resource{ContentType: "application/javascript", Body: body} }
func PNG(body string) Resource  { return Resource{ContentType: "image/png", Body: body} }

// Transport serves Resources by exact URL and counts requests. Unknown URLs
// fail with fetch.ErrStatus.
type Transport struct {
	mu        sync.Mutex
	resources map[string]Resource
	calls     map[string]int
}

func New(resources map[string]Resource) *Transport {
	if resources == nil {
		resources = make(map[string]Resource)
	}
	return &Transport{resources: resources, calls: make(map[string]int)}
}

func (t *Transport) Get(ctx context.Context, rawURL string, maxBytes int64) (*fetch.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.calls[rawURL]++
	r, ok := t.resources[rawURL]
	t.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: 404 for %s", fetch.ErrStatus, rawURL)
	}
	if maxBytes > 0 && int64(len(r.Body)) > maxBytes {
		return nil, fmt.Errorf("%w: %s", fetch.ErrTooLarge, rawURL)
	}
	return &fetch.Response{URL: rawURL, ContentType: r.ContentType, Body: []byte(r.Body)}, nil
}

// Calls reports how many times rawURL was requested.
func (t *Transport) Calls(rawURL string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[rawURL]
}
