package cmd

import "github.com/charmbracelet/lipgloss"

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	okColor      = lipgloss.Color("#10B981") // Green
	warnColor    = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	labelStyle = lipgloss.NewStyle().Foreground(mutedColor).Width(20)
	valueStyle = lipgloss.NewStyle()
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

// outcomeStyle colours an outcome by how much attention it needs.
func outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case "applied", "planned", "unchanged":
		return lipgloss.NewStyle().Bold(true).Foreground(okColor)
	case "skipped", "rolled_back":
		return lipgloss.NewStyle().Bold(true).Foreground(warnColor)
	default:
		return lipgloss.NewStyle().Bold(true).Foreground(errorColor)
	}
}
