// Package fetch is the network transport used to load documents and
// resources during a capture.
package fetch

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

var (
	ErrTooLarge = errors.New("fetch: resource exceeds size limit")
	ErrStatus   = errors.New("fetch: unexpected status")
	ErrScheme   = errors.New("fetch: unsupported scheme")
)

const (
	defaultTimeout      = 30 * time.Second
	defaultHardLimit    = 64 << 20
	defaultMaxRedirects = 10
	defaultUserAgent    = "snapfile/1.0"
)

// Transport fetches the bytes behind a URL. maxBytes <= 0 means no
// caller-imposed limit.
type Transport interface {
	Get(ctx context.Context, rawURL string, maxBytes int64) (*Response, error)
}

type Response struct {
	URL         string
	ContentType string
	Body        []byte
}

type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxRedirects int
	// HardLimit caps every body even when the caller sets no limit.
	HardLimit  int64
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = defaultMaxRedirects
	}
	if c.HardLimit <= 0 {
		c.HardLimit = defaultHardLimit
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Client is the HTTP Transport.
type Client struct {
	client *http.Client
	config Config
}

func New(cfg Config) *Client {
	cfg.defaults()
	client := cfg.HTTPClient
	if client == nil {
		maxRedirects := cfg.MaxRedirects
		client = &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				return nil
			},
		}
	}
	return &Client{client: client, config: cfg}
}

func (c *Client) Get(ctx context.Context, rawURL string, maxBytes int64) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch: parse %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrScheme, u.Scheme)
	}
	limit := c.config.HardLimit
	if maxBytes > 0 && maxBytes < limit {
		limit = maxBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: new request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: %s: http %d", ErrStatus, rawURL, resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %s: %d bytes", ErrTooLarge, rawURL, resp.ContentLength)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("fetch: read %s: %w", rawURL, err)
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%w: %s: more than %d bytes", ErrTooLarge, rawURL, limit)
	}
	c.config.Logger.Debug("fetched", zap.String("url", rawURL), zap.Int("bytes", len(body)))

	return &Response{
		URL:         resp.Request.URL.String(),
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// Text fetches a textual resource and decodes it to UTF-8 using the
// declared or sniffed charset.
func Text(ctx context.Context, t Transport, rawURL string, maxBytes int64) (string, error) {
	resp, err := t.Get(ctx, rawURL, maxBytes)
	if err != nil {
		return "", err
	}
	return decodeText(resp.Body, resp.ContentType)
}

// DataURI fetches a resource and encodes it as a base64 data URI tagged
// with its media type.
func DataURI(ctx context.Context, t Transport, rawURL string, maxBytes int64) (string, error) {
	resp, err := t.Get(ctx, rawURL, maxBytes)
	if err != nil {
		return "", err
	}
	return EncodeDataURI(resp.ContentType, resp.Body), nil
}

func EncodeDataURI(contentType string, body []byte) string {
	mediaType := ""
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}
	if mediaType == "" || mediaType == "application/octet-stream" {
		sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(body))
		mediaType = sniffed
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(body)
}

func decodeText(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		// unknown charset label: keep the raw bytes
		return string(body), nil
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("fetch: decode text: %w", err)
	}
	return strings.TrimPrefix(string(decoded), "\ufeff"), nil
}
