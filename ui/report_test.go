package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/answerbot/internal/bot"
	"github.com/go-scripts/answerbot/internal/types"
)

func TestRenderSummary(t *testing.T) {
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	summary := &bot.Summary{
		ID:           "run-1",
		Started:      start,
		Ended:        start.Add(90 * time.Minute),
		Mode:         "command",
		State:        bot.StateDone,
		Selected:     3,
		DraftSavedOK: 2,
		Failures:     []types.Failure{{Stage: types.StageGenerate, Title: "为什么天空是蓝色的", Status: 502}},
		Artifacts:    map[string]string{"invitations": "artifacts/invitations_latest.json"},
	}

	out := RenderSummary(summary, 0)
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "01:30:00")
	assert.Contains(t, out, "为什么天空是蓝色的")
	assert.Contains(t, out, "502")
	assert.Contains(t, out, "invitations_latest.json")
	assert.Contains(t, out, "done")
}

func TestResultsTableEmpty(t *testing.T) {
	out := NewResultsTable(nil, nil).View()
	assert.Contains(t, out, "No failures")
	assert.NotContains(t, out, "Artifacts")
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "00:00:00", formatElapsed(-time.Second))
	assert.Equal(t, "02:03:04", formatElapsed(2*time.Hour+3*time.Minute+4*time.Second))
}

func TestStatsPanelAlignsValuesWithColor(t *testing.T) {
	prev := lipgloss.ColorProfile()
	lipgloss.SetColorProfile(termenv.TrueColor)
	defer lipgloss.SetColorProfile(prev)

	summary := &bot.Summary{
		ID:           "run-2",
		Mode:         "command",
		Selected:     3,
		DraftSavedOK: 2,
		Failures:     []types.Failure{{Stage: types.StageDraft, Title: "q"}},
	}
	out := NewStatsPanel(summary).View()
	require.NotEqual(t, out, ansi.Strip(out), "expected colored output")

	values := map[string]string{
		"Mode:":         "command",
		"Drafts saved:": "2 (67%)",
		"Failures:":     "1",
	}
	for _, line := range strings.Split(ansi.Strip(out), "\n") {
		for label, value := range values {
			i := strings.Index(line, label)
			if i < 0 {
				continue
			}
			rest := line[i:]
			require.Greater(t, len(rest), labelWidth+1, line)
			assert.True(t, strings.HasPrefix(rest[labelWidth+1:], value), "value of %q misaligned: %q", label, line)
			delete(values, label)
		}
	}
	assert.Empty(t, values)
}
