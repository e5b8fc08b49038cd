package tui

import "github.com/charmbracelet/lipgloss"

// Global colors and styles, populated by ApplyTheme from the active Theme.
// Declared here (rather than inline at each call site) because the teacher's
// multi-mode renderers used the same pattern: one set of package-level
// style vars, swapped in place on theme change instead of threaded through
// every component.
var (
	ColorBg           lipgloss.Color
	ColorBorder       lipgloss.Color
	ColorText         lipgloss.Color
	ColorActive       lipgloss.Color
	ColorAccentGreen  lipgloss.Color
	ColorAccentPurple lipgloss.Color
	ColorProfit       lipgloss.Color
	ColorLoss         lipgloss.Color
	ColorGray         lipgloss.Color

	// Not theme-derived: fixed semantic colors for pane status dots.
	ColorSuccess = lipgloss.Color("#9ece6a")
	ColorError   = lipgloss.Color("#f7768e")

	StylePage        lipgloss.Style
	StyleHeader      lipgloss.Style
	StyleKey         lipgloss.Style
	StyleProfit      lipgloss.Style
	StyleLoss        lipgloss.Style
	StyleTableHeader lipgloss.Style
	StyleFooter      lipgloss.Style
	StyleModal       lipgloss.Style
	StyleHelpText    lipgloss.Style
)

func init() {
	ApplyTheme(GetTheme())
}
