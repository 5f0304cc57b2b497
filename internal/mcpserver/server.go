package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/page"
	"github.com/adityalohuni/snapfile/internal/pipeline"
	"github.com/adityalohuni/snapfile/internal/service"
)

const (
	archiveScheme = "snapfile"
	latestURI     = "snapfile://capture/latest"
)

type Options struct {
	Implementation *mcp.Implementation
	Instructions   string
	// ArchiveLimit compacts the store after each capture when positive.
	ArchiveLimit int
}

type Server struct {
	mcpServer    *mcp.Server
	service      *service.Service
	archiveLimit int
}

func New(svc *service.Service, opts Options) *Server {
	impl := opts.Implementation
	if impl == nil {
		impl = &mcp.Implementation{Name: "snapfile", Version: "v1.0.0"}
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{Instructions: opts.Instructions})
	s := &Server{mcpServer: server, service: svc, archiveLimit: opts.ArchiveLimit}

	mcp.AddTool(server, &mcp.Tool{
		Name:        "snapfile.capture",
		Description: "Save a web page as a single self-contained HTML file with every resource embedded.",
	}, s.capture)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "snapfile.summary",
		Description: "Return the text and links of a stored capture.",
	}, s.summary)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "snapfile.list",
		Description: "List stored captures, newest first.",
	}, s.list)

	server.AddResource(&mcp.Resource{
		Name:        "capture_latest",
		Description: "The most recent capture as HTML.",
		URI:         latestURI,
		MIMEType:    "text/html",
	}, s.readCapture)

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		Name:        "capture",
		Description: "A stored capture as HTML, by id.",
		URITemplate: "snapfile://capture/{id}",
		MIMEType:    "text/html",
	}, s.readCapture)

	return s
}

func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

type CaptureInput struct {
	URL           string `json:"url" jsonschema:"address of the page to capture"`
	Rendered      bool   `json:"rendered,omitempty" jsonschema:"load the page in a browser and capture it after its scripts ran"`
	RemoveScripts *bool  `json:"removeScripts,omitempty" jsonschema:"drop scripts and event handlers (default true)"`
	RemoveFrames  bool   `json:"removeFrames,omitempty" jsonschema:"drop frames instead of embedding them"`
	RemoveHidden  bool   `json:"removeHiddenElements,omitempty" jsonschema:"drop elements that are not displayed"`
	Compress      bool   `json:"compress,omitempty" jsonschema:"compress HTML and CSS"`
}

type CaptureOutput struct {
	ID    string          `json:"id" jsonschema:"identifier of the stored capture"`
	URL   string          `json:"url"`
	Title string          `json:"title,omitempty"`
	Size  int             `json:"size" jsonschema:"size of the HTML in bytes"`
	URI   string          `json:"uri" jsonschema:"resource URI of the capture"`
	Stats *pipeline.Stats `json:"stats,omitempty"`
}

func (s *Server) capture(ctx context.Context, _ *mcp.CallToolRequest, input CaptureInput) (*mcp.CallToolResult, CaptureOutput, error) {
	if strings.TrimSpace(input.URL) == "" {
		return nil, CaptureOutput{}, errors.New("url is required")
	}
	opts := config.Default()
	opts.DisplayStats = true
	if input.RemoveScripts != nil {
		opts.RemoveScripts = *input.RemoveScripts
	}
	opts.RemoveFrames = input.RemoveFrames
	opts.RemoveHiddenElements = input.RemoveHidden
	opts.CompressHTML = input.Compress
	opts.CompressCSS = input.Compress

	archive, err := s.service.Capture(ctx, service.Request{
		URL:      input.URL,
		Options:  opts,
		Rendered: input.Rendered,
		Client:   "mcp",
	})
	if err != nil {
		return nil, CaptureOutput{}, err
	}
	if s.archiveLimit > 0 {
		_, _ = s.service.Store().Compact(s.archiveLimit)
	}
	return nil, CaptureOutput{
		ID:    archive.ID,
		URL:   archive.URL,
		Title: archive.Title,
		Size:  archive.Size,
		URI:   archiveScheme + "://capture/" + archive.ID,
		Stats: archive.Stats,
	}, nil
}

type SummaryInput struct {
	ID       string `json:"id,omitempty" jsonschema:"capture id; the latest capture when empty"`
	MaxText  int    `json:"maxText,omitempty" jsonschema:"maximum characters of text to return"`
	MaxLinks int    `json:"maxLinks,omitempty" jsonschema:"maximum number of links to return"`
}

func (s *Server) summary(ctx context.Context, _ *mcp.CallToolRequest, input SummaryInput) (*mcp.CallToolResult, page.Summary, error) {
	archive, content, err := s.lookup(input.ID)
	if err != nil {
		return nil, page.Summary{}, err
	}
	sum, err := page.Summarize(archive, content, page.SummaryOptions{MaxText: input.MaxText, MaxLinks: input.MaxLinks})
	if err != nil {
		return nil, page.Summary{}, err
	}
	return nil, sum, nil
}

type ListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of captures to return"`
}

type ListOutput struct {
	Captures []page.Archive `json:"captures"`
}

func (s *Server) list(ctx context.Context, _ *mcp.CallToolRequest, input ListInput) (*mcp.CallToolResult, ListOutput, error) {
	items := s.service.Store().List()
	if input.Limit > 0 && len(items) > input.Limit {
		items = items[:input.Limit]
	}
	return nil, ListOutput{Captures: items}, nil
}

func (s *Server) lookup(id string) (page.Archive, string, error) {
	store := s.service.Store()
	var (
		archive page.Archive
		ok      bool
	)
	if id == "" || id == "latest" {
		archive, ok = store.Latest()
	} else {
		archive, ok = store.Get(id)
	}
	if !ok {
		return page.Archive{}, "", fmt.Errorf("%w: %q", page.ErrNotFound, id)
	}
	content, err := store.Content(archive.ID)
	if err != nil {
		return page.Archive{}, "", err
	}
	return archive, content, nil
}

func (s *Server) readCapture(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req == nil || req.Params == nil {
		return nil, errors.New("missing resource params")
	}
	u, err := url.Parse(req.Params.URI)
	if err != nil {
		return nil, fmt.Errorf("invalid capture URI: %w", err)
	}
	if u.Scheme != archiveScheme || u.Host != "capture" {
		return nil, fmt.Errorf("unsupported capture URI: %s", req.Params.URI)
	}
	_, content, err := s.lookup(strings.TrimPrefix(u.Path, "/"))
	if errors.Is(err, page.ErrNotFound) {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      req.Params.URI,
				MIMEType: "text/html",
				Text:     content,
			},
		},
	}, nil
}
