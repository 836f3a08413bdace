package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Open       key.Binding
	Back       key.Binding
	Refresh    key.Binding
	Select     key.Binding
	Clear      key.Binding
	Calculate  key.Binding
	CalcAll    key.Binding
	Abort      key.Binding
	Sort       key.Binding
	Delete     key.Binding
	Log        key.Binding
	Help       key.Binding
	Quit       key.Binding
	Confirm    key.Binding
	Reject     key.Binding
	ForceQuit  key.Binding
	CloseModal key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Open:       key.NewBinding(key.WithKeys("enter", "right", "l", "o"), key.WithHelp("→/l/enter", "open")),
		Back:       key.NewBinding(key.WithKeys("backspace", "left", "h"), key.WithHelp("←/h", "back")),
		Refresh:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Select:     key.NewBinding(key.WithKeys(" ", "space"), key.WithHelp("space", "select")),
		Clear:      key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "clear selection")),
		Calculate:  key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "size")),
		CalcAll:    key.NewBinding(key.WithKeys("C"), key.WithHelp("C", "size all")),
		Abort:      key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "stop sizing")),
		Sort:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "sort")),
		Delete:     key.NewBinding(key.WithKeys("x", "delete"), key.WithHelp("x", "delete")),
		Log:        key.NewBinding(key.WithKeys("L"), key.WithHelp("L", "log")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
		Confirm:    key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "delete")),
		Reject:     key.NewBinding(key.WithKeys("n", "N", "esc"), key.WithHelp("n/esc", "cancel")),
		ForceQuit:  key.NewBinding(key.WithKeys("ctrl+c")),
		CloseModal: key.NewBinding(key.WithKeys("esc", "?", "L", "q"), key.WithHelp("esc", "back")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Back, k.Open, k.Select, k.Calculate, k.Sort, k.Delete, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Open, k.Back, k.Refresh},
		{k.Select, k.Clear, k.Delete},
		{k.Calculate, k.CalcAll, k.Abort, k.Sort},
		{k.Log, k.Help, k.Quit},
	}
}

type confirmKeys struct{ keyMap }

func (k confirmKeys) ShortHelp() []key.Binding {
	return []key.Binding{k.Confirm, k.Reject}
}

func (k confirmKeys) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
