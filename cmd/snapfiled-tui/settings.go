package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adityalohuni/snapfile/internal/config"
)

// settingsForm holds the editable settings as text until they are saved.
type settingsForm struct {
	DaemonAddr      string
	APIToken        string
	AdminToken      string
	SessionMaxIdle  string
	AdminBaseURL    string
	RefreshInterval string
	Browser         string
	Stealth         string
	FrameTimeout    string
	FrameMaxWait    string
}

type settingField struct {
	name string
	get  func(*settingsForm) *string
}

var settingFields = []settingField{
	{"daemon.addr", func(f *settingsForm) *string { return &f.DaemonAddr }},
	{"auth.api_token", func(f *settingsForm) *string { return &f.APIToken }},
	{"auth.admin_token", func(f *settingsForm) *string { return &f.AdminToken }},
	{"daemon.session_max_idle", func(f *settingsForm) *string { return &f.SessionMaxIdle }},
	{"tui.admin_base_url", func(f *settingsForm) *string { return &f.AdminBaseURL }},
	{"tui.refresh_interval", func(f *settingsForm) *string { return &f.RefreshInterval }},
	{"capture.browser", func(f *settingsForm) *string { return &f.Browser }},
	{"capture.stealth", func(f *settingsForm) *string { return &f.Stealth }},
	{"capture.frame_timeout", func(f *settingsForm) *string { return &f.FrameTimeout }},
	{"capture.frame_max_wait", func(f *settingsForm) *string { return &f.FrameMaxWait }},
}

func formFromSettings(s config.Settings) settingsForm {
	return settingsForm{
		DaemonAddr:      s.DaemonAddr,
		APIToken:        s.APIToken,
		AdminToken:      s.AdminToken,
		SessionMaxIdle:  s.SessionMaxIdle.String(),
		AdminBaseURL:    s.AdminBaseURL,
		RefreshInterval: s.TUIRefreshInterval.String(),
		Browser:         s.Browser,
		Stealth:         strconv.FormatBool(s.Stealth),
		FrameTimeout:    s.FrameTimeout.String(),
		FrameMaxWait:    s.FrameMaxWait.String(),
	}
}

func formToSettings(base config.Settings, form settingsForm) (config.Settings, error) {
	next := base
	next.DaemonAddr = strings.TrimSpace(form.DaemonAddr)
	next.APIToken = strings.TrimSpace(form.APIToken)
	next.AdminToken = strings.TrimSpace(form.AdminToken)
	next.AdminBaseURL = strings.TrimSpace(form.AdminBaseURL)

	switch b := strings.TrimSpace(form.Browser); b {
	case config.BrowserStatic, config.BrowserChromium:
		next.Browser = b
	default:
		return config.Settings{}, fmt.Errorf("capture.browser must be %q or %q", config.BrowserStatic, config.BrowserChromium)
	}
	stealth, err := strconv.ParseBool(strings.TrimSpace(form.Stealth))
	if err != nil {
		return config.Settings{}, fmt.Errorf("invalid capture.stealth: %w", err)
	}
	next.Stealth = stealth

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"daemon.session_max_idle", form.SessionMaxIdle, &next.SessionMaxIdle},
		{"tui.refresh_interval", form.RefreshInterval, &next.TUIRefreshInterval},
		{"capture.frame_timeout", form.FrameTimeout, &next.FrameTimeout},
		{"capture.frame_max_wait", form.FrameMaxWait, &next.FrameMaxWait},
	}
	for _, d := range durations {
		raw := strings.TrimSpace(d.raw)
		if raw == "" {
			return config.Settings{}, errors.New(d.name + " cannot be empty")
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return config.Settings{}, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		*d.dst = v
	}
	return next, nil
}

func (m model) settingValueByIndex(i int) string {
	if i < 0 || i >= len(settingFields) {
		return ""
	}
	return *settingFields[i].get(&m.form)
}

func (m model) selectedSettingValue() string { return m.settingValueByIndex(m.settingsCursor) }

func (m *model) setSelectedSettingValue(value string) {
	if m.settingsCursor < 0 || m.settingsCursor >= len(settingFields) {
		return
	}
	*settingFields[m.settingsCursor].get(&m.form) = value
}
