// Package api exposes capture, administration, the frame bridge and MCP
// over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/admin"
	"github.com/adityalohuni/snapfile/internal/httpx"
	"github.com/adityalohuni/snapfile/internal/service"
	"github.com/adityalohuni/snapfile/internal/wsbridge"
)

type Config struct {
	Service *service.Service
	Admin   *admin.Handlers
	// Bridge serves /ws when set.
	Bridge *wsbridge.Bridge
	// MCP serves /mcp/sse and /mcp/stream when set.
	MCP        *mcp.Server
	APIToken   string
	AdminToken string
	Logger     *zap.Logger
}

func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	captures := &captureHandlers{svc: cfg.Service, logger: cfg.Logger.Named("api")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpx.RequestLogger(cfg.Logger.Named("http")))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Route("/api/captures", func(r chi.Router) {
		r.Use(httpx.RequireToken(cfg.APIToken))
		r.Get("/", captures.list)
		r.Post("/", captures.create)
		r.Get("/{id}", captures.content)
		r.Get("/{id}/summary", captures.summary)
	})

	if cfg.Bridge != nil {
		r.With(httpx.RequireToken(cfg.APIToken)).Get("/ws", cfg.Bridge.HandleWS)
	}

	if cfg.MCP != nil {
		getServer := func(*http.Request) *mcp.Server { return cfg.MCP }
		r.Group(func(r chi.Router) {
			r.Use(httpx.RequireToken(cfg.APIToken))
			r.Handle("/mcp/sse", mcp.NewSSEHandler(getServer, nil))
			r.Handle("/mcp/stream", mcp.NewStreamableHTTPHandler(getServer, nil))
		})
	}

	if cfg.Admin != nil {
		h := cfg.Admin
		r.Route("/admin", func(r chi.Router) {
			r.Use(httpx.RequireToken(cfg.AdminToken))
			r.Get("/status", h.Status)
			r.Get("/sessions", h.SessionsList)
			r.Get("/archives", h.ArchivesList)
			r.Get("/peers", h.PeersList)
			r.Post("/peers/disconnect", h.DisconnectPeer)
			r.Get("/config", h.ConfigGet)
			r.Put("/config", h.ConfigSet)
			r.Handle("/ui", admin.UIHandler{Store: h.Store})
		})
	}
	return r
}
