package ui

import (
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
)

var loadingStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#f5c2e7")).
	Bold(true)

func newLoadingSpinner() spinner.Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = loadingStyle
	return s
}

// RenderLoading renders a loading message behind the spinner.
func RenderLoading(s spinner.Model, message string) string {
	return s.View() + " " + loadingStyle.Render(message)
}
