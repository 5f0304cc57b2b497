package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/admin"
	"github.com/adityalohuni/snapfile/internal/api"
	"github.com/adityalohuni/snapfile/internal/app"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/mcpserver"
)

var (
	configPath   string
	debug        bool
	addr         string
	archiveLimit int
)

var rootCmd = &cobra.Command{
	Use:          "snapfiled",
	Short:        "Capture daemon: HTTP API, MCP endpoints and the frame bridge",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "settings file (default ~/.config/snapfile/config.toml)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "debug logging")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the settings file")
	rootCmd.Flags().IntVar(&archiveLimit, "archive-limit", 1000, "archives kept before the oldest are dropped")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := app.NewLogger(debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	settings, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if addr != "" {
		settings.DaemonAddr = addr
	}
	logger.Info("loaded config", zap.String("path", settings.Path), zap.String("browser", settings.Browser))

	a, err := app.New(settings, app.ArchiveDir(settings.Path), logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	server := mcpserver.New(a.Service, mcpserver.Options{
		Implementation: &mcp.Implementation{Name: "snapfile", Version: "v1.0.0"},
		Instructions:   "Use snapfile.capture to save a page as one HTML file, then snapfile.summary to read it.",
		ArchiveLimit:   archiveLimit,
	})

	handler := api.NewRouter(api.Config{
		Service: a.Service,
		Bridge:  a.Bridge,
		MCP:     server.MCPServer(),
		Admin: &admin.Handlers{
			StartedAt:  time.Now(),
			Sessions:   a.Service.Registry(),
			Store:      a.Store,
			Bridge:     a.Bridge,
			MaxIdle:    settings.SessionMaxIdle,
			ConfigPath: settings.Path,
		},
		APIToken:   settings.APIToken,
		AdminToken: settings.AdminToken,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:              settings.DaemonAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go prune(ctx, a, settings.SessionMaxIdle, archiveLimit, logger)

	errc := make(chan error, 1)
	go func() {
		logger.Info("snapfile daemon listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("http server error: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// prune drops idle finished sessions and compacts the archive store.
func prune(ctx context.Context, a *app.App, maxIdle time.Duration, limit int, logger *zap.Logger) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.Service.Registry().Prune(maxIdle); n > 0 {
				logger.Debug("pruned sessions", zap.Int("count", n))
			}
			if n, err := a.Store.Compact(limit); err != nil {
				logger.Warn("archive compaction failed", zap.Error(err))
			} else if n > 0 {
				logger.Info("compacted archives", zap.Int("removed", n))
			}
		}
	}
}
