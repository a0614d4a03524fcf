// Package style provides consistent terminal styling using Lipgloss, for
// the command-line surface's human-readable output.
package style

import "github.com/charmbracelet/lipgloss"

var (
	Bold = lipgloss.NewStyle().Bold(true)
	Dim  = lipgloss.NewStyle().Faint(true)

	Good = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	Warn = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	Bad  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)
