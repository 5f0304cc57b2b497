package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	zone "github.com/lrstanley/bubblezone"
	"github.com/spf13/cobra"

	"github.com/adityalohuni/snapfile/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "snapfiled-tui",
	Short:        "Terminal dashboard for a running snapfiled",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "settings file (default ~/.config/snapfile/config.toml)")
}

func run(*cobra.Command, []string) error {
	settings, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	wd, _ := os.Getwd()

	zone.NewGlobal()
	defer zone.Close()

	m := newModel(newAdminClient(settings), settings.TUIRefreshInterval, sourceRoot(wd), settings)
	m.resize()
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion()).Run()
	return err
}

// sourceRoot walks up from dir to the snapfile checkout containing it, or
// returns "" outside one.
func sourceRoot(dir string) string {
	for dir != "" {
		if _, err := os.Stat(filepath.Join(dir, "cmd", "snapfiled", "main.go")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
