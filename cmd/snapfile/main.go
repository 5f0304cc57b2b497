package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/adityalohuni/snapfile/internal/app"
	"github.com/adityalohuni/snapfile/internal/capture"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/page"
	"github.com/adityalohuni/snapfile/internal/service"
)

const version = "v1.0.0"

var errInterrupted = errors.New("interrupted")

var (
	configPath string
	debug      bool
	logger     = zap.NewNop()
)

var captureFlags struct {
	output       string
	keepScripts  bool
	noFrames     bool
	removeHidden bool
	noCompress   bool
	rendered     bool
	quiet        bool
	stats        bool
}

var rootCmd = &cobra.Command{
	Use:           "snapfile",
	Short:         "Save web pages as single self-contained HTML files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		if !debug {
			return nil
		}
		var err error
		logger, err = app.NewLogger(true)
		return err
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture <url>",
	Short: "Capture a page into one HTML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCapture,
}

var summaryCmd = &cobra.Command{
	Use:   "summary <file.html>",
	Short: "Print the title, text and links of a saved page",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummary,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "snapfile", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "settings file (default ~/.config/snapfile/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "debug logging on stderr")

	f := captureCmd.Flags()
	f.StringVarP(&captureFlags.output, "output", "o", "", "output file, - for stdout (default derived from the page title)")
	f.BoolVar(&captureFlags.keepScripts, "keep-scripts", false, "keep scripts and event handlers")
	f.BoolVar(&captureFlags.noFrames, "no-frames", false, "drop frames instead of embedding them")
	f.BoolVar(&captureFlags.removeHidden, "remove-hidden", false, "drop elements that are not displayed")
	f.BoolVar(&captureFlags.noCompress, "no-compress", false, "keep HTML and CSS as authored")
	f.BoolVar(&captureFlags.rendered, "rendered", false, "load the page in Chromium and capture it after its scripts ran")
	f.BoolVarP(&captureFlags.quiet, "quiet", "q", false, "no progress display")
	f.BoolVar(&captureFlags.stats, "stats", false, "print capture statistics as JSON on stderr")

	summaryCmd.Flags().Int("max-text", 0, "maximum characters of text")
	summaryCmd.Flags().Int("max-links", 0, "maximum number of links")

	rootCmd.AddCommand(captureCmd, summaryCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "snapfile:", err)
		os.Exit(1)
	}
}

func runCapture(cmd *cobra.Command, args []string) error {
	settings, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("config load failed: %w", err)
	}
	if captureFlags.rendered {
		settings.Browser = config.BrowserChromium
	}
	a, err := app.New(settings, "", logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	opts := captureOptions(settings.CaptureOptions())
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := service.Request{URL: args[0], Options: opts, Client: "cli"}
	var archive page.Archive
	if captureFlags.quiet || debug {
		archive, err = a.Service.Capture(ctx, req)
	} else {
		archive, err = captureWithProgress(ctx, a.Service, req)
	}
	if err != nil {
		return err
	}

	content, err := a.Store.Content(archive.ID)
	if err != nil {
		return err
	}
	out := captureFlags.output
	if out == "" {
		out = outputName(archive)
	}
	if out == "-" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), content)
	} else {
		err = os.WriteFile(out, []byte(content), 0o644)
		if err == nil && !captureFlags.quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "saved %s (%d bytes)\n", out, archive.Size)
		}
	}
	if err != nil {
		return err
	}
	if captureFlags.stats && archive.Stats != nil {
		enc := json.NewEncoder(cmd.ErrOrStderr())
		enc.SetIndent("", "  ")
		return enc.Encode(archive.Stats)
	}
	return nil
}

func captureOptions(opts *config.Options) *config.Options {
	opts.RemoveScripts = !captureFlags.keepScripts
	opts.RemoveFrames = captureFlags.noFrames
	if captureFlags.removeHidden {
		opts.RemoveHiddenElements = true
	}
	if captureFlags.noCompress {
		opts.CompressHTML = false
		opts.CompressCSS = false
	}
	opts.DisplayStats = opts.DisplayStats || captureFlags.stats
	return opts
}

func captureWithProgress(ctx context.Context, svc *service.Service, req service.Request) (page.Archive, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newProgressModel(req.URL), tea.WithOutput(os.Stderr), tea.WithContext(ctx))
	req.Progress = func(e capture.Event) { p.Send(eventMsg(e)) }
	go func() {
		archive, err := svc.Capture(ctx, req)
		p.Send(doneMsg{archive: archive, err: err})
	}()

	final, err := p.Run()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return page.Archive{}, err
	}
	m, ok := final.(progressModel)
	if !ok || m.done == nil {
		return page.Archive{}, errInterrupted
	}
	return m.done.archive, m.done.err
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// outputName derives a file name from the title, or the host when there is
// none.
func outputName(a page.Archive) string {
	base := strings.TrimSpace(a.Title)
	if base == "" {
		if u, err := url.Parse(a.URL); err == nil && u.Host != "" {
			base = u.Host
		} else {
			base = "page"
		}
	}
	base = strings.Trim(unsafeName.ReplaceAllString(base, "_"), "_.")
	if r := []rune(base); len(r) > 80 {
		base = string(r[:80])
	}
	if base == "" {
		base = "page"
	}
	return filepath.Clean(base + ".html")
}

func runSummary(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	maxText, _ := cmd.Flags().GetInt("max-text")
	maxLinks, _ := cmd.Flags().GetInt("max-links")
	sum, err := page.Summarize(page.Archive{URL: args[0]}, string(data), page.SummaryOptions{MaxText: maxText, MaxLinks: maxLinks})
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
