package admin

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adityalohuni/snapfile/internal/config"
	"github.com/adityalohuni/snapfile/internal/page"
	"github.com/adityalohuni/snapfile/internal/session"
	"github.com/adityalohuni/snapfile/internal/wsbridge"
)

type Status struct {
	Uptime   string `json:"uptime"`
	Running  int    `json:"running"`
	Sessions int    `json:"sessions"`
	Archives int    `json:"archives"`
	Peers    int    `json:"peers"`
}

type Handlers struct {
	StartedAt  time.Time
	Sessions   *session.Registry
	Store      *page.Store
	Bridge     *wsbridge.Bridge
	MaxIdle    time.Duration
	ConfigPath string
}

func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	h.prune()
	writeJSON(w, Status{
		Uptime:   time.Since(h.StartedAt).Round(time.Second).String(),
		Running:  h.Sessions.Running(),
		Sessions: h.Sessions.Count(),
		Archives: h.Store.Count(),
		Peers:    h.Bridge.Count(),
	})
}

func (h *Handlers) SessionsList(w http.ResponseWriter, _ *http.Request) {
	h.prune()
	writeJSON(w, h.Sessions.List())
}

func (h *Handlers) ArchivesList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.Store.List())
}

func (h *Handlers) PeersList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.Bridge.ListPeers())
}

func (h *Handlers) DisconnectPeer(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimSpace(r.URL.Query().Get("address"))
	if addr == "" {
		http.Error(w, "missing address", http.StatusBadRequest)
		return
	}
	if !h.Bridge.Disconnect(addr) {
		http.Error(w, "no peer at "+addr, http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "address": addr})
}

// ConfigPayload is the editable part of the settings file. Durations are
// strings in time.ParseDuration syntax.
type ConfigPayload struct {
	Path               string          `json:"path,omitempty"`
	DaemonAddr         string          `json:"daemon_addr"`
	APIToken           string          `json:"api_token"`
	AdminToken         string          `json:"admin_token"`
	SessionMaxIdle     string          `json:"session_max_idle"`
	AdminBaseURL       string          `json:"admin_base_url"`
	TUIRefreshInterval string          `json:"tui_refresh_interval"`
	Browser            string          `json:"browser"`
	Stealth            bool            `json:"stealth"`
	UserAgent          string          `json:"user_agent,omitempty"`
	FrameTimeout       string          `json:"frame_timeout"`
	FrameMaxWait       string          `json:"frame_max_wait"`
	Capture            *config.Options `json:"capture,omitempty"`
}

func (h *Handlers) ConfigGet(w http.ResponseWriter, _ *http.Request) {
	settings, err := config.LoadOrCreate(h.ConfigPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, PayloadFromSettings(settings))
}

func (h *Handlers) ConfigSet(w http.ResponseWriter, r *http.Request) {
	var payload ConfigPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	next, err := payload.Settings()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if next.Path == "" {
		next.Path = h.ConfigPath
	}
	saved, err := config.Save(next)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, PayloadFromSettings(saved))
}

// Settings converts the payload back, failing on malformed durations.
func (p ConfigPayload) Settings() (config.Settings, error) {
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session_max_idle", p.SessionMaxIdle, new(time.Duration)},
		{"tui_refresh_interval", p.TUIRefreshInterval, new(time.Duration)},
		{"frame_timeout", p.FrameTimeout, new(time.Duration)},
		{"frame_max_wait", p.FrameMaxWait, new(time.Duration)},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return config.Settings{}, errors.New("invalid " + d.name)
		}
		*d.dst = v
	}
	s := config.Settings{
		Path:               strings.TrimSpace(p.Path),
		DaemonAddr:         strings.TrimSpace(p.DaemonAddr),
		APIToken:           strings.TrimSpace(p.APIToken),
		AdminToken:         strings.TrimSpace(p.AdminToken),
		SessionMaxIdle:     *durations[0].dst,
		AdminBaseURL:       strings.TrimSpace(p.AdminBaseURL),
		TUIRefreshInterval: *durations[1].dst,
		Browser:            strings.TrimSpace(p.Browser),
		Stealth:            p.Stealth,
		UserAgent:          strings.TrimSpace(p.UserAgent),
		FrameTimeout:       *durations[2].dst,
		FrameMaxWait:       *durations[3].dst,
		Capture:            *config.Default(),
	}
	if p.Capture != nil {
		s.Capture = *p.Capture
	}
	return s, nil
}

func PayloadFromSettings(s config.Settings) ConfigPayload {
	return ConfigPayload{
		Path:               s.Path,
		DaemonAddr:         s.DaemonAddr,
		APIToken:           s.APIToken,
		AdminToken:         s.AdminToken,
		SessionMaxIdle:     s.SessionMaxIdle.String(),
		AdminBaseURL:       s.AdminBaseURL,
		TUIRefreshInterval: s.TUIRefreshInterval.String(),
		Browser:            s.Browser,
		Stealth:            s.Stealth,
		UserAgent:          s.UserAgent,
		FrameTimeout:       s.FrameTimeout.String(),
		FrameMaxWait:       s.FrameMaxWait.String(),
		Capture:            s.CaptureOptions(),
	}
}

func (h *Handlers) prune() {
	if h.MaxIdle > 0 {
		h.Sessions.Prune(h.MaxIdle)
	}
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(value)
}

func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(r, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid json payload")
	}
	return nil
}
