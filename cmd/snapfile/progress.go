package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/adityalohuni/snapfile/internal/capture"
	"github.com/adityalohuni/snapfile/internal/page"
)

type eventMsg capture.Event

type doneMsg struct {
	archive page.Archive
	err     error
}

var (
	phaseStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// progressModel shows one capture: a spinner until resources are known,
// then a bar over the resources loaded so far.
type progressModel struct {
	url      string
	spin     spinner.Model
	bar      progress.Model
	phase    capture.EventType
	index    int
	max      int
	resource string
	done     *doneMsg
}

func newProgressModel(url string) progressModel {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	return progressModel{
		url:  url,
		spin: sp,
		bar:  progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

func (m progressModel) Init() tea.Cmd {
	return m.spin.Tick
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.done = &doneMsg{err: errInterrupted}
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.bar.Width = max(10, min(60, msg.Width-20))
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	case eventMsg:
		m.phase = msg.Type
		switch msg.Type {
		case capture.ResourcesInitialized:
			m.max = msg.Max
		case capture.ResourceLoaded:
			m.index, m.max, m.resource = msg.Index, msg.Max, msg.ResourceURL
		}
		return m, nil
	case doneMsg:
		m.done = &msg
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) ratio() float64 {
	if m.max <= 0 {
		return 0
	}
	return float64(m.index) / float64(m.max)
}

func (m progressModel) View() string {
	if m.done != nil {
		if m.done.err != nil {
			return errStyle.Render("capture failed: "+m.done.err.Error()) + "\n"
		}
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s\n", m.spin.View(), phaseStyle.Render(phaseLabel(m.phase)), dimStyle.Render(m.url))
	if m.max > 0 {
		fmt.Fprintf(&b, "%s %d/%d\n", m.bar.ViewAs(m.ratio()), m.index, m.max)
		if m.resource != "" {
			b.WriteString(dimStyle.Render(trimURL(m.resource, 70)) + "\n")
		}
	}
	return b.String()
}

func phaseLabel(t capture.EventType) string {
	switch t {
	case capture.PageLoading, "":
		return "loading page"
	case capture.PageLoaded, capture.ResourcesInitializing:
		return "finding resources"
	case capture.ResourcesInitialized, capture.ResourceLoaded:
		return "embedding resources"
	case capture.PageEnded:
		return "done"
	default:
		return string(t)
	}
}

func trimURL(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
