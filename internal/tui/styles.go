package tui

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title   lipgloss.Style
	self    lipgloss.Style
	member  lipgloss.Style
	agent   lipgloss.Style
	notice  lipgloss.Style
	errText lipgloss.Style
	border  lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		self:    lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		member:  lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		agent:   lipgloss.NewStyle().Foreground(lipgloss.Color("213")),
		notice:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true),
		errText: lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		border:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")),
	}
}
