package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/adityalohuni/snapfile/internal/admin"
	"github.com/adityalohuni/snapfile/internal/page"
	"github.com/adityalohuni/snapfile/internal/session"
	"github.com/adityalohuni/snapfile/internal/wsbridge"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *Client) Status(ctx context.Context) (admin.Status, error) {
	var out admin.Status
	err := c.do(ctx, http.MethodGet, "/admin/status", nil, &out)
	return out, err
}

func (c *Client) ListSessions(ctx context.Context) ([]session.Job, error) {
	var out []session.Job
	err := c.do(ctx, http.MethodGet, "/admin/sessions", nil, &out)
	return out, err
}

func (c *Client) ListPeers(ctx context.Context) ([]wsbridge.PeerInfo, error) {
	var out []wsbridge.PeerInfo
	err := c.do(ctx, http.MethodGet, "/admin/peers", nil, &out)
	return out, err
}

func (c *Client) ListArchives(ctx context.Context) ([]page.Archive, error) {
	var out []page.Archive
	err := c.do(ctx, http.MethodGet, "/admin/archives", nil, &out)
	return out, err
}

func (c *Client) DisconnectPeer(ctx context.Context, address string) error {
	return c.do(ctx, http.MethodPost, "/admin/peers/disconnect?address="+url.QueryEscape(address), nil, nil)
}

func (c *Client) GetConfig(ctx context.Context) (admin.ConfigPayload, error) {
	var out admin.ConfigPayload
	err := c.do(ctx, http.MethodGet, "/admin/config", nil, &out)
	return out, err
}

func (c *Client) PutConfig(ctx context.Context, payload admin.ConfigPayload) (admin.ConfigPayload, error) {
	var out admin.ConfigPayload
	err := c.do(ctx, http.MethodPut, "/admin/config", payload, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("admin request %s %s failed: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
