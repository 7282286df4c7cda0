package tui

import "github.com/charmbracelet/lipgloss"

// Styles holds the lipgloss styles of the terminal views.
type Styles struct {
	Title        lipgloss.Style
	Notice       lipgloss.Style
	Error        lipgloss.Style
	Help         lipgloss.Style
	Digit        lipgloss.Style
	DigitFocused lipgloss.Style
}

// DefaultStyles returns the adaptive color scheme.
func DefaultStyles() Styles {
	digit := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		Padding(0, 1).
		MarginRight(1)

	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#1F4E79", Dark: "#7FB3E6"}),
		Notice: lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#1E7B34", Dark: "#73D08A"}),
		Error:  lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B3261E", Dark: "#F2857D"}),
		Help:   lipgloss.NewStyle().Faint(true),
		Digit:  digit,
		DigitFocused: digit.
			BorderForeground(lipgloss.AdaptiveColor{Light: "#1F4E79", Dark: "#7FB3E6"}).
			Bold(true),
	}
}
