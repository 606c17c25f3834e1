package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-scripts/answerbot/internal/bot"
)

const labelWidth = 14

// StatsPanel shows the counters of a finished run.
type StatsPanel struct {
	summary *bot.Summary
	width   int
	style   lipgloss.Style
}

func NewStatsPanel(summary *bot.Summary) *StatsPanel {
	return &StatsPanel{
		summary: summary,
		style:   borderStyle.BorderForeground(lipgloss.Color("99")),
	}
}

func (s *StatsPanel) SetWidth(width int) {
	s.width = width
}

func (s *StatsPanel) View() string {
	sum := s.summary
	rate := 0.0
	if sum.Selected > 0 {
		rate = float64(sum.DraftSavedOK) / float64(sum.Selected) * 100
	}

	stats := []struct {
		label string
		value string
	}{
		{"Run", sum.ID},
		{"Mode", sum.Mode},
		{"State", sum.State.String()},
		{"Selected", fmt.Sprintf("%d", sum.Selected)},
		{"Drafts saved", fmt.Sprintf("%d (%.0f%%)", sum.DraftSavedOK, rate)},
		{"Failures", fmt.Sprintf("%d", len(sum.Failures))},
		{"Elapsed", formatElapsed(sum.Ended.Sub(sum.Started))},
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("Run Summary") + "\n\n")
	for _, stat := range stats {
		value := valueStyle.Render(stat.value)
		if stat.label == "Failures" && len(sum.Failures) > 0 {
			value = warningStyle.Render(stat.value)
		}
		content.WriteString(labelStyle.Width(labelWidth).Render(stat.label+":") + " " + value + "\n")
	}

	style := s.style
	if s.width > 0 {
		style = style.Width(s.width)
	}
	return style.Render(strings.TrimRight(content.String(), "\n"))
}

func formatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d",
		int(d.Hours()),
		int(d.Minutes())%60,
		int(d.Seconds())%60,
	)
}
