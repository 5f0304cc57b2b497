package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/app"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/mcpserver"
)

var (
	configPath string
	debug      bool
	persist    bool
)

var rootCmd = &cobra.Command{
	Use:          "snapfile-mcp",
	Short:        "Serve snapfile captures to an MCP client over stdio",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "settings file (default ~/.config/snapfile/config.toml)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "debug logging on stderr")
	rootCmd.Flags().BoolVar(&persist, "persist", false, "keep archives next to the settings file instead of in memory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	// stdout carries the protocol; zap's production config logs to stderr.
	logger, err := app.NewLogger(debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	settings, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	dir := ""
	if persist {
		dir = app.ArchiveDir(settings.Path)
	}
	a, err := app.New(settings, dir, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	server := mcpserver.New(a.Service, mcpserver.Options{
		Implementation: &mcp.Implementation{Name: "snapfile", Version: "v1.0.0"},
		Instructions:   "Use snapfile.capture to save a page as one HTML file, then snapfile.summary to read it.",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("serving mcp on stdio", zap.String("config", settings.Path))
	return server.Run(ctx, &mcp.StdioTransport{})
}
