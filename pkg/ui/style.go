package ui

import "github.com/charmbracelet/lipgloss"

type Style struct {
	UnselectedMessage lipgloss.Style
	SelectedMessage   lipgloss.Style
	FocusedMessage    lipgloss.Style

	Header  lipgloss.Style
	Variant lipgloss.Style
	Role    lipgloss.Style
	Error   lipgloss.Style
	Status  lipgloss.Style
}

type BorderColors struct {
	Unselected string
	Selected   string
	Focused    string
	Error      string
}

func DefaultStyles() *Style {
	lightModeColors := BorderColors{
		Unselected: "#CCCCCC",
		Selected:   "#FFB6C1",
		Focused:    "#FFFF99",
		Error:      "#D70000",
	}

	darkModeColors := BorderColors{
		Unselected: "#444444",
		Selected:   "#DD7090",
		Focused:    "#DDDD77",
		Error:      "#FF5F5F",
	}

	color := func(light, dark string) lipgloss.AdaptiveColor {
		return lipgloss.AdaptiveColor{Light: light, Dark: dark}
	}

	return &Style{
		UnselectedMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(color(lightModeColors.Unselected, darkModeColors.Unselected)),
		SelectedMessage: lipgloss.NewStyle().Border(lipgloss.ThickBorder()).
			Padding(0, 1).
			BorderForeground(color(lightModeColors.Selected, darkModeColors.Selected)),
		FocusedMessage: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(color(lightModeColors.Focused, darkModeColors.Focused)),

		Header: lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Variant: lipgloss.NewStyle().
			Foreground(color(lightModeColors.Selected, darkModeColors.Selected)),
		Role:  lipgloss.NewStyle().Bold(true),
		Error: lipgloss.NewStyle().Border(lipgloss.NormalBorder()).
			Padding(0, 1).
			BorderForeground(color(lightModeColors.Error, darkModeColors.Error)).
			Foreground(color(lightModeColors.Error, darkModeColors.Error)),
		Status: lipgloss.NewStyle().Faint(true).Padding(0, 1),
	}
}
