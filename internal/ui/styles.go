package ui

import "github.com/charmbracelet/lipgloss"

var (
	panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444466")).
		Padding(0, 1)

	title = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ffff"))
	label = lipgloss.NewStyle().Foreground(lipgloss.Color("#888899"))
	value = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ccff"))
	hint  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#666688"))

	statusOK   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff88"))
	statusWarn = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffaa00"))
	statusBad  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff4444"))

	rim  = lipgloss.NewStyle().Foreground(lipgloss.Color("#80d5ff"))
	knob = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("255"))
)
