package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"

	"github.com/adityalohuni/snapfile/internal/session"
	"github.com/adityalohuni/snapfile/internal/wsbridge"
)

const (
	accent    = lipgloss.Color("42")
	peerColor = lipgloss.Color("39")
	muted     = lipgloss.Color("244")
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(muted)
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(accent)
	rowStyle    = lipgloss.NewStyle().Reverse(true)
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	okStyle     = lipgloss.NewStyle().Foreground(peerColor)
	cardStyle   = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.NormalBorder()).BorderForeground(muted)
	paneStyle   = lipgloss.NewStyle().Padding(0, 1).Border(lipgloss.RoundedBorder())
)

// pane is a scrollable list whose rows are two lines high.
type pane struct {
	title  string
	cursor int
	vp     viewport.Model
}

func newPane(title string) pane {
	return pane{title: title, vp: viewport.New(40, 20)}
}

func (p *pane) show(content string) {
	p.vp.SetContent(content)
	p.vp.SetYOffset(2 * p.cursor)
}

type trend struct {
	label string
	chart streamlinechart.Model
}

func newTrend(label string, color lipgloss.Color) trend {
	return trend{
		label: label,
		chart: streamlinechart.New(34, 8,
			streamlinechart.WithYRange(0, 16),
			streamlinechart.WithStyles(runes.ArcLineStyle, lipgloss.NewStyle().Foreground(color)),
		),
	}
}

func (t *trend) push(v float64) {
	t.chart.Push(v)
	t.chart.Draw()
}

// tween eases a counter towards its latest value.
type tween struct{ pos, vel float64 }

func (t *tween) step(s harmonica.Spring, target float64) {
	t.pos, t.vel = s.Update(t.pos, t.vel, target)
}

func (t tween) value() int { return int(t.pos + 0.5) }

func (m *model) resize() {
	w, h := max(40, m.width/2-2)-2, max(10, m.height-20)
	for i := range m.panes {
		m.panes[i].vp.Width, m.panes[i].vp.Height = w, h
	}
	m.moveCursor(sessionsPanel, 0)
	m.moveCursor(peersPanel, 0)
}

func jobZone(j session.Job) string       { return "job-" + j.ID }
func peerZone(p wsbridge.PeerInfo) string { return "peer-" + p.Address }

func summaryLine(sessions, running, peers int) string {
	return fmt.Sprintf("sessions=%d running=%d peers=%d", sessions, running, peers)
}

func renderRows[T any](items []T, cursor int, id func(T) string, head func(T) string, detail func(T) string) string {
	if len(items) == 0 {
		return labelStyle.Render("nothing yet")
	}
	var b strings.Builder
	for i, it := range items {
		row := " " + head(it)
		if i == cursor {
			row = rowStyle.Render(row)
		}
		b.WriteString(zone.Mark(id(it), row))
		b.WriteString("\n   " + detail(it) + "\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m model) renderJobRows() string {
	return renderRows(m.jobs, m.panes[sessionsPanel].cursor, jobZone,
		func(j session.Job) string {
			return fmt.Sprintf("%-8s %s %s", shortID(j.ID), stateLabel(j.State), trimText(j.URL, 60))
		},
		jobDetail)
}

func (m model) renderPeerRows() string {
	return renderRows(m.peers, m.panes[peersPanel].cursor, peerZone,
		func(p wsbridge.PeerInfo) string {
			agent := p.UserAgent
			if strings.TrimSpace(agent) == "" {
				agent = "unknown agent"
			}
			return p.Address + " " + trimText(agent, 40)
		},
		func(p wsbridge.PeerInfo) string {
			return labelStyle.Render(p.RemoteAddr + " seen " + since(p.LastSeen))
		})
}

func stateLabel(s session.State) string {
	switch s {
	case session.StateFailed:
		return failStyle.Render("failed ")
	case session.StateDone:
		return okStyle.Render("done   ")
	}
	return activeStyle.Render("running")
}

func jobDetail(j session.Job) string {
	switch j.State {
	case session.StateFailed:
		return failStyle.Render(trimText(j.Error, 70))
	case session.StateDone:
		client := j.Client
		if client == "" {
			client = "-"
		}
		return labelStyle.Render(fmt.Sprintf("archive %s by %s, %s", shortID(j.ArchiveID), client, since(j.UpdatedAt)))
	}
	phase := string(j.Phase)
	if phase == "" {
		phase = "queued"
	}
	return labelStyle.Render(fmt.Sprintf("%s, %d/%d resources, started %s", phase, j.Loaded, j.Total, since(j.StartedAt)))
}

func (m model) View() string {
	if m.mode == settingsMode {
		return zone.Scan(m.settingsView())
	}

	panes := make([]string, len(m.panes))
	for i, p := range m.panes {
		title := labelStyle.Render(p.title)
		if panel(i) == m.focus {
			title = activeStyle.Render(p.title)
		}
		panes[i] = paneStyle.Width(max(40, m.width/2-2)).Render(title + "\n" + p.vp.View())
	}

	updated := "never"
	if !m.lastUpdated.IsZero() {
		updated = m.lastUpdated.Format(time.Kitchen)
	}
	uptime := m.status.Uptime
	if uptime == "" {
		uptime = "-"
	}
	counters := lipgloss.JoinHorizontal(lipgloss.Top,
		card("running", m.running.value()),
		card("archives", m.archives.value()),
		card("peers", m.status.Peers),
		cardStyle.Render(labelStyle.Render("uptime")+"\n"+uptime),
		cardStyle.Render(labelStyle.Render("updated")+"\n"+updated),
	)
	trends := lipgloss.JoinHorizontal(lipgloss.Top,
		cardStyle.Render(m.trends[sessionsPanel].label+" trend\n"+m.trends[sessionsPanel].chart.View()),
		cardStyle.Render(m.trends[peersPanel].label+" trend\n"+m.trends[peersPanel].chart.View()),
	)

	return zone.Scan(lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("snapfiled "+m.spin.View()),
		counters,
		trends,
		lipgloss.JoinHorizontal(lipgloss.Top, panes...),
		labelStyle.Render(fmt.Sprintf("daemon %s, log %s", m.daemon.state(), m.daemon.logPath)),
		m.message,
		m.help.View(dashboardKeys),
	))
}

func card(label string, n int) string {
	return cardStyle.Render(labelStyle.Render(label) + "\n" + fmt.Sprint(n))
}

func (m model) settingsView() string {
	var b strings.Builder
	for i, f := range settingFields {
		marker := "  "
		if i == m.settingsCursor {
			marker = activeStyle.Render("▸ ")
		}
		fmt.Fprintf(&b, "%s%-24s %s\n", marker, f.name, m.settingValueByIndex(i))
	}
	form := paneStyle.Width(max(80, m.width-2)).Render(strings.TrimSuffix(b.String(), "\n"))

	edit := labelStyle.Render("e edits the selected value")
	if m.editing {
		edit = activeStyle.Render(settingFields[m.settingsCursor].name) + "\n" + m.editor.View()
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		headerStyle.Render("settings "+labelStyle.Render(m.settings.Path)),
		form,
		edit,
		m.message,
		m.help.View(settingsKeys),
	)
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}

func since(t time.Time) string {
	if t.IsZero() {
		return "at an unknown time"
	}
	return max(time.Since(t).Round(time.Second), 0).String() + " ago"
}

func trimText(s string, n int) string {
	r := []rune(s)
	if n < 4 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
