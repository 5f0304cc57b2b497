package main

import "github.com/charmbracelet/bubbles/key"

type dashboardKeyMap struct {
	Up, Down, PageUp, PageDown key.Binding
	Switch, Refresh            key.Binding
	Disconnect                 key.Binding
	Start, Stop                key.Binding
	Settings, Quit             key.Binding
}

func (k dashboardKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Switch, k.Up, k.Down, k.Disconnect, k.Refresh, k.Start, k.Stop, k.Settings, k.Quit}
}

func (k dashboardKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.PageUp, k.PageDown}}
}

type settingsKeyMap struct {
	Up, Down     key.Binding
	Edit         key.Binding
	Apply, Abort key.Binding
	Save, Reload key.Binding
	Back, Quit   key.Binding
}

func (k settingsKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Edit, k.Save, k.Reload, k.Back, k.Quit}
}

func (k settingsKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp(), {k.Apply, k.Abort}}
}

var dashboardKeys = dashboardKeyMap{
	Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("k", "up")),
	Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("j", "down")),
	PageUp:     key.NewBinding(key.WithKeys("pgup"), key.WithHelp("pgup", "scroll up")),
	PageDown:   key.NewBinding(key.WithKeys("pgdown"), key.WithHelp("pgdown", "scroll down")),
	Switch:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "panel")),
	Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Disconnect: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "disconnect peer")),
	Start:      key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start snapfiled")),
	Stop:       key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop snapfiled")),
	Settings:   key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "settings")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

var settingsKeys = settingsKeyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("k", "up")),
	Down:   key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("j", "down")),
	Edit:   key.NewBinding(key.WithKeys("e", "enter"), key.WithHelp("e", "edit")),
	Apply:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "apply")),
	Abort:  key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
	Save:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "save")),
	Reload: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Back:   key.NewBinding(key.WithKeys("esc", "c"), key.WithHelp("c", "back")),
	Quit:   key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}
