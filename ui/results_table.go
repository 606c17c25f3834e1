package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-scripts/answerbot/internal/textutil"
	"github.com/go-scripts/answerbot/internal/types"
)

const titleWidth = 40

// ResultsTable lists failures by stage and the artifacts a run produced.
type ResultsTable struct {
	failures  []types.Failure
	artifacts map[string]string
	width     int
	style     lipgloss.Style
}

func NewResultsTable(failures []types.Failure, artifacts map[string]string) *ResultsTable {
	return &ResultsTable{
		failures:  failures,
		artifacts: artifacts,
		style:     borderStyle.BorderForeground(lipgloss.Color("35")),
	}
}

func (t *ResultsTable) SetWidth(width int) {
	t.width = width
}

func (t *ResultsTable) View() string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("Failures") + "\n\n")

	if len(t.failures) == 0 {
		content.WriteString(infoStyle.Render("No failures"))
	} else {
		content.WriteString(labelStyle.Render(fmt.Sprintf("%-10s %-*s %6s", "Stage", titleWidth, "Question", "Status")))
		for _, f := range t.failures {
			status := "-"
			if f.Status != 0 {
				status = fmt.Sprintf("%d", f.Status)
			}
			row := fmt.Sprintf("%-10s %-*s %6s", f.Stage, titleWidth, textutil.Truncate(f.Title, titleWidth), status)
			if f.Stage == types.StageRun || f.Stage == types.StageLogin {
				row = errorStyle.Render(row)
			} else {
				row = warningStyle.Render(row)
			}
			content.WriteString("\n" + row)
		}
	}

	if len(t.artifacts) > 0 {
		names := make([]string, 0, len(t.artifacts))
		for name := range t.artifacts {
			names = append(names, name)
		}
		sort.Strings(names)
		content.WriteString("\n\n" + titleStyle.Render("Artifacts") + "\n")
		for _, name := range names {
			content.WriteString(infoStyle.Render(fmt.Sprintf("\n• %s: %s", name, t.artifacts[name])))
		}
	}

	style := t.style
	if t.width > 0 {
		style = style.Width(t.width)
	}
	return style.Render(content.String())
}
