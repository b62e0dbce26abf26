package ui

import "github.com/charmbracelet/bubbles/key"

type KeyMap struct {
	SelectPrevMessage key.Binding
	SelectNextMessage key.Binding
	PrevVariant       key.Binding
	NextVariant       key.Binding
	EditMessage       key.Binding
	Regenerate        key.Binding

	UnfocusMessage key.Binding
	FocusMessage   key.Binding
	SubmitMessage  key.Binding

	CancelCompletion key.Binding
	DismissError     key.Binding

	NewConversation key.Binding
	Export          key.Binding
	NextModel       key.Binding

	Help key.Binding
	Quit key.Binding
}

var DefaultKeyMap = KeyMap{
	SelectPrevMessage: key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "prev message")),
	SelectNextMessage: key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "next message")),
	PrevVariant:       key.NewBinding(key.WithKeys("left", "h"), key.WithHelp("←/h", "prev variant")),
	NextVariant:       key.NewBinding(key.WithKeys("right", "l"), key.WithHelp("→/l", "next variant")),
	EditMessage:       key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
	Regenerate:        key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "regenerate")),

	UnfocusMessage: key.NewBinding(key.WithKeys("esc", "ctrl+g"), key.WithHelp("esc", "browse")),
	FocusMessage:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "write")),
	SubmitMessage:  key.NewBinding(key.WithKeys("tab", "ctrl+s"), key.WithHelp("tab", "send")),

	CancelCompletion: key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "stop")),
	DismissError:     key.NewBinding(key.WithKeys("esc", "enter"), key.WithHelp("esc", "dismiss")),

	NewConversation: key.NewBinding(key.WithKeys("ctrl+n"), key.WithHelp("ctrl+n", "new chat")),
	Export:          key.NewBinding(key.WithKeys("ctrl+o"), key.WithHelp("ctrl+o", "export")),
	NextModel:       key.NewBinding(key.WithKeys("ctrl+t"), key.WithHelp("ctrl+t", "next model")),

	Help: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Quit: key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{
		k.SubmitMessage, k.UnfocusMessage, k.FocusMessage,
		k.PrevVariant, k.NextVariant, k.CancelCompletion,
		k.DismissError, k.Help, k.Quit,
	}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.SelectPrevMessage, k.SelectNextMessage, k.PrevVariant, k.NextVariant},
		{k.EditMessage, k.Regenerate, k.FocusMessage, k.UnfocusMessage, k.SubmitMessage},
		{k.CancelCompletion, k.DismissError, k.NewConversation, k.Export, k.NextModel},
		{k.Help, k.Quit},
	}
}
