package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
	"golang.org/x/sync/errgroup"

	"github.com/adityalohuni/snapfile/internal/admin"
	"github.com/adityalohuni/snapfile/internal/adminclient"
	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/session"
	"github.com/adityalohuni/snapfile/internal/wsbridge"
)

const adminCallTimeout = 3 * time.Second

type panel int

const (
	sessionsPanel panel = iota
	peersPanel
)

type uiMode int

const (
	dashboardMode uiMode = iota
	settingsMode
)

// snapshotMsg is one refresh of the dashboard from the admin API.
type snapshotMsg struct {
	status admin.Status
	jobs   []session.Job
	peers  []wsbridge.PeerInfo
	err    error
	at     time.Time
}

// noticeMsg reports the outcome of a user action. A successful action
// triggers a refresh; settings, when set, replace the loaded ones.
type noticeMsg struct {
	text     string
	err      error
	settings *config.Settings
}

func notice(action, done string, err error) noticeMsg {
	if err != nil {
		return noticeMsg{text: action, err: err}
	}
	return noticeMsg{text: done}
}

type tickMsg time.Time

type model struct {
	client   *adminclient.Client
	refresh  time.Duration
	settings config.Settings
	form     settingsForm
	daemon   daemon

	status admin.Status
	jobs   []session.Job
	peers  []wsbridge.PeerInfo

	mode           uiMode
	focus          panel
	panes          [2]pane
	settingsCursor int
	editing        bool
	editor         textinput.Model
	help           help.Model
	spin           spinner.Model
	trends         [2]trend

	spring   harmonica.Spring
	running  tween
	archives tween

	message     string
	lastUpdated time.Time
	width       int
	height      int
}

func newModel(client *adminclient.Client, refresh time.Duration, repoRoot string, cfg config.Settings) model {
	ed := textinput.New()
	ed.Prompt = "value> "
	ed.CharLimit = 512
	ed.Width = 64

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(accent)

	return model{
		client:   client,
		refresh:  refresh,
		settings: cfg,
		form:     formFromSettings(cfg),
		daemon: daemon{
			repoRoot:   repoRoot,
			configPath: cfg.Path,
			logPath:    filepath.Join(os.TempDir(), "snapfiled.log"),
		},
		panes:   [2]pane{newPane("Capture Sessions"), newPane("Frame Peers")},
		editor:  ed,
		help:    help.New(),
		spin:    sp,
		trends:  [2]trend{newTrend("Running", accent), newTrend("Peers", peerColor)},
		spring:  harmonica.NewSpring(harmonica.FPS(60), 10.0, 0.9),
		message: "connecting to " + cfg.AdminBaseURL,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(refreshCmd(m.client), tickCmd(m.refresh), m.spin.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.resize()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case snapshotMsg:
		m.applySnapshot(msg)
		return m, nil

	case noticeMsg:
		if msg.err != nil {
			m.message = msg.text + " failed: " + msg.err.Error()
			return m, nil
		}
		if msg.settings != nil {
			m.applySettings(*msg.settings)
		}
		m.message = msg.text
		return m, refreshCmd(m.client)

	case daemonStartedMsg:
		if msg.err != nil {
			m.message = "start snapfiled failed: " + msg.err.Error()
			return m, nil
		}
		m.daemon.proc = msg.proc
		m.message = "snapfiled started, log in " + m.daemon.logPath
		return m, refreshCmd(m.client)

	case tickMsg:
		if !m.daemon.running() {
			m.daemon.proc = nil
		}
		m.running.step(m.spring, float64(m.status.Running))
		m.archives.step(m.spring, float64(m.status.Archives))
		return m, tea.Batch(refreshCmd(m.client), tickCmd(m.refresh))

	case tea.MouseMsg:
		if m.mode == dashboardMode && msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
			m.selectAt(msg)
		}
		return m, nil

	case tea.KeyMsg:
		if m.mode == settingsMode {
			return m.updateSettings(msg)
		}
		return m.updateDashboard(msg)
	}
	return m, nil
}

func (m *model) applySnapshot(msg snapshotMsg) {
	if msg.err != nil {
		m.message = "refresh failed: " + msg.err.Error()
		return
	}
	m.status, m.jobs, m.peers = msg.status, msg.jobs, msg.peers
	sort.Slice(m.peers, func(i, j int) bool { return m.peers[i].ConnectedAt.Before(m.peers[j].ConnectedAt) })
	m.lastUpdated = msg.at
	m.trends[sessionsPanel].push(float64(msg.status.Running))
	m.trends[peersPanel].push(float64(len(m.peers)))
	m.moveCursor(sessionsPanel, 0)
	m.moveCursor(peersPanel, 0)
	m.message = summaryLine(len(m.jobs), msg.status.Running, len(m.peers))
}

func (m *model) rows(p panel) int {
	if p == sessionsPanel {
		return len(m.jobs)
	}
	return len(m.peers)
}

// moveCursor shifts the cursor of p by delta, keeps it within the rows and
// re-renders the pane.
func (m *model) moveCursor(p panel, delta int) {
	pn := &m.panes[p]
	pn.cursor = min(max(pn.cursor+delta, 0), max(m.rows(p)-1, 0))
	if p == sessionsPanel {
		pn.show(m.renderJobRows())
	} else {
		pn.show(m.renderPeerRows())
	}
}

func (m *model) selectAt(msg tea.MouseMsg) {
	for i, j := range m.jobs {
		if z := zone.Get(jobZone(j)); z != nil && z.InBounds(msg) {
			m.focus = sessionsPanel
			m.moveCursor(sessionsPanel, i-m.panes[sessionsPanel].cursor)
			return
		}
	}
	for i, p := range m.peers {
		if z := zone.Get(peerZone(p)); z != nil && z.InBounds(msg) {
			m.focus = peersPanel
			m.moveCursor(peersPanel, i-m.panes[peersPanel].cursor)
			return
		}
	}
}

func (m model) updateDashboard(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := dashboardKeys
	switch {
	case key.Matches(msg, k.Quit):
		return m, tea.Quit
	case key.Matches(msg, k.Settings):
		m.mode = settingsMode
		m.editing = false
		m.editor.Blur()
		m.message = "editing " + m.settings.Path
	case key.Matches(msg, k.Switch):
		m.focus = 1 - m.focus
	case key.Matches(msg, k.Refresh):
		return m, refreshCmd(m.client)
	case key.Matches(msg, k.Up):
		m.moveCursor(m.focus, -1)
	case key.Matches(msg, k.Down):
		m.moveCursor(m.focus, 1)
	case key.Matches(msg, k.PageUp):
		m.panes[m.focus].vp.HalfViewUp()
	case key.Matches(msg, k.PageDown):
		m.panes[m.focus].vp.HalfViewDown()
	case key.Matches(msg, k.Disconnect):
		if m.focus != peersPanel || len(m.peers) == 0 {
			m.message = "select a peer to disconnect"
			return m, nil
		}
		return m, disconnectCmd(m.client, m.peers[m.panes[peersPanel].cursor].Address)
	case key.Matches(msg, k.Start):
		if m.daemon.running() {
			m.message = "snapfiled is already running"
			return m, nil
		}
		return m, m.daemon.start()
	case key.Matches(msg, k.Stop):
		return m, m.daemon.stop()
	}
	return m, nil
}

func (m model) updateSettings(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	k := settingsKeys
	if m.editing {
		switch {
		case key.Matches(msg, k.Apply):
			m.setSelectedSettingValue(m.editor.Value())
			m.message = settingFields[m.settingsCursor].name + " changed, s saves"
		case key.Matches(msg, k.Abort):
			m.message = "edit canceled"
		default:
			var cmd tea.Cmd
			m.editor, cmd = m.editor.Update(msg)
			return m, cmd
		}
		m.editing = false
		m.editor.Blur()
		return m, nil
	}

	switch {
	case key.Matches(msg, k.Quit):
		return m, tea.Quit
	case key.Matches(msg, k.Back):
		m.mode = dashboardMode
		m.message = summaryLine(len(m.jobs), m.status.Running, len(m.peers))
	case key.Matches(msg, k.Up):
		m.settingsCursor = max(m.settingsCursor-1, 0)
	case key.Matches(msg, k.Down):
		m.settingsCursor = min(m.settingsCursor+1, len(settingFields)-1)
	case key.Matches(msg, k.Reload):
		return m, reloadSettingsCmd(m.settings.Path)
	case key.Matches(msg, k.Save):
		return m, saveSettingsCmd(m.settings, m.form)
	case key.Matches(msg, k.Edit):
		m.editing = true
		m.editor.SetValue(m.selectedSettingValue())
		m.editor.CursorEnd()
		m.message = "editing " + settingFields[m.settingsCursor].name
		return m, m.editor.Focus()
	}
	return m, nil
}

func (m *model) applySettings(s config.Settings) {
	m.settings = s
	m.form = formFromSettings(s)
	m.refresh = s.TUIRefreshInterval
	m.client = newAdminClient(s)
	m.daemon.configPath = s.Path
}

func newAdminClient(s config.Settings) *adminclient.Client {
	return adminclient.New(s.AdminBaseURL, s.AdminToken, &http.Client{Timeout: adminCallTimeout + time.Second})
}

// refreshCmd reads status, sessions and peers in parallel; any failure
// fails the whole refresh so the dashboard never mixes generations.
func refreshCmd(client *adminclient.Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), adminCallTimeout)
		defer cancel()
		var msg snapshotMsg
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			msg.status, err = client.Status(gctx)
			return err
		})
		g.Go(func() (err error) {
			msg.jobs, err = client.ListSessions(gctx)
			return err
		})
		g.Go(func() (err error) {
			msg.peers, err = client.ListPeers(gctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return snapshotMsg{err: err}
		}
		msg.at = time.Now()
		return msg
	}
}

func disconnectCmd(client *adminclient.Client, address string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), adminCallTimeout)
		defer cancel()
		return notice("disconnect "+address, "disconnected "+address, client.DisconnectPeer(ctx, address))
	}
}

func saveSettingsCmd(current config.Settings, form settingsForm) tea.Cmd {
	return func() tea.Msg {
		next, err := formToSettings(current, form)
		if err == nil {
			next, err = config.Save(next)
		}
		if err != nil {
			return notice("save", "", err)
		}
		return noticeMsg{text: "settings saved, restart snapfiled to apply capture settings", settings: &next}
	}
}

func reloadSettingsCmd(path string) tea.Cmd {
	return func() tea.Msg {
		cfg, err := config.LoadOrCreate(path)
		if err != nil {
			return notice("reload", "", err)
		}
		return noticeMsg{text: "settings reloaded", settings: &cfg}
	}
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg { return tickMsg(t) })
}
