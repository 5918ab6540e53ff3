package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f5c2e7"))
	accountStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#89dceb"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#a6e3a1"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#f9e2af"))
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#f38ba8"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#b4befe"))
)

func Title(s string) string { return titleStyle.Render(s) }

func AccountName(s string) string { return accountStyle.Render(s) }

func Success(s string) string { return successStyle.Render(s) }

// RateLimited is for expected stops the user only has to wait out.
func RateLimited(s string) string { return warnStyle.Render(s) }

// Failure is for errors somebody should look into.
func Failure(s string) string { return errorStyle.Render(s) }

func Muted(s string) string { return mutedStyle.Render(s) }

// Check renders one line of a pass/fail report.
func Check(ok bool, name, detail string) string {
	mark := Success("✓")
	if !ok {
		mark = Failure("✗")
	}
	if detail == "" {
		return fmt.Sprintf("%s %s", mark, name)
	}
	return fmt.Sprintf("%s %s %s", mark, name, Muted("("+detail+")"))
}
