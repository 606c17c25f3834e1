// Package ui renders the end-of-run report for the terminal.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/go-scripts/answerbot/internal/bot"
)

// RenderSummary lays out the stats panel above the failure table. A width
// of zero lets the panels size to their content.
func RenderSummary(summary *bot.Summary, width int) string {
	stats := NewStatsPanel(summary)
	table := NewResultsTable(summary.Failures, summary.Artifacts)
	if width > 0 {
		stats.SetWidth(width - 2)
		table.SetWidth(width - 2)
	}
	return lipgloss.JoinVertical(lipgloss.Left, stats.View(), table.View())
}
