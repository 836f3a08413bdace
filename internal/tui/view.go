package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/slmtnm/s4/internal/core"
	"github.com/slmtnm/s4/internal/store"
)

// Styles - Minimalistic theme
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)

	selectedStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff"))

	markedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#cc9900")).
			Bold(true)

	directoryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#0066cc")).
			Bold(true)

	fileStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#bbbbbb"))

	sizeStyle = lipgloss.NewStyle().
			Width(12).
			Align(lipgloss.Right)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#cc0000")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#006600")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))

	dialogStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("#cc0000")).
			Padding(1, 2)

	browserStyle = lipgloss.NewStyle().
			BorderForeground(lipgloss.Color("#999999")).
			Padding(1, 2)

	centerStyle = lipgloss.NewStyle().
			Align(lipgloss.Center)

	verticalCenterStyle = lipgloss.NewStyle().
				AlignVertical(lipgloss.Center)
)

// logTail is the number of log lines shown under the browser.
const logTail = 3

// View renders the current view
func (m Model) View() string {
	switch m.viewMode {
	case ViewConfirm:
		return m.viewConfirm()
	case ViewHelp:
		return m.viewHelp()
	case ViewLog:
		return m.viewLog()
	default:
		return m.viewBrowser()
	}
}

func (m Model) title() string {
	key, dir := m.session.SortOrder()
	title := fmt.Sprintf("S4 | Path: %s | Sort: %s %s", displayPath(m.session.Path()), key, dirArrow(dir))
	if n := m.session.Selection.Len(); n > 0 {
		title += fmt.Sprintf(" | %d selected", n)
	}
	return title
}

// viewBrowser renders the file browser view
func (m Model) viewBrowser() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(m.title()))
	s.WriteString("\n\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Error: %s", m.err.Error())))
		s.WriteString("\n\n")
	} else if m.statusMessage != "" {
		s.WriteString(successStyle.Render(m.statusMessage))
		s.WriteString("\n\n")
	}

	switch {
	case m.deleting:
		s.WriteString(m.viewProgress())
		s.WriteString("\n\n")
	case m.session.Mode() == core.ModeCalculating:
		s.WriteString(fmt.Sprintf("%s calculating sizes (esc to stop)\n\n", m.spinner.View()))
	}

	listErr := m.session.Cache.LastError(m.session.Path())
	if len(m.items) == 0 {
		switch {
		case m.listed:
			s.WriteString("No objects found in this location.\n")
		case listErr != nil:
			s.WriteString(errorStyle.Render(fmt.Sprintf("Listing failed: %s (r to retry)", listErr)))
			s.WriteString("\n")
		default:
			s.WriteString(m.spinner.View() + " Loading...\n")
		}
	} else {
		start, end := m.window()
		for i := start; i < end; i++ {
			s.WriteString(m.renderRow(m.items[i], i == m.cursor))
			s.WriteString("\n")
		}
		switch {
		case m.listed:
		case listErr != nil:
			s.WriteString(errorStyle.Render(fmt.Sprintf("Listing incomplete: %s (r to retry)", listErr)))
			s.WriteString("\n")
		default:
			s.WriteString(m.spinner.View() + " Loading more...\n")
		}
	}

	if tail := lastN(m.logLines, logTail); len(tail) > 0 {
		s.WriteString("\n")
		for _, line := range tail {
			s.WriteString(helpStyle.Render(line))
			s.WriteString("\n")
		}
	}

	s.WriteString("\n")
	s.WriteString(m.help.View(m.keys))

	return m.center(browserStyle.Render(s.String()))
}

func (m Model) renderRow(item core.ViewItem, active bool) string {
	cursor := " "
	if active {
		cursor = ">"
	}
	mark := " "
	if item.Selected {
		mark = markedStyle.Render("*")
	}

	var name string
	if item.Node.IsContainer() {
		label := item.Node.Name
		if item.Node.Type != store.TypeBucket {
			label += "/"
		}
		name = directoryStyle.Render(label)
	} else {
		name = fileStyle.Render(item.Node.Name)
	}

	line := fmt.Sprintf("%s %s %s  %-19s  %s", cursor, mark, sizeStyle.Render(item.DisplaySize), item.DisplayTime, name)
	if active {
		line = selectedStyle.Render(line)
	}
	return line
}

// window returns the slice of rows that fits on screen around the cursor.
func (m Model) window() (int, int) {
	rows := len(m.items)
	if m.height <= 0 {
		return 0, rows
	}
	visible := m.height - 12 - logTail
	if visible < 5 {
		visible = 5
	}
	if rows <= visible {
		return 0, rows
	}
	start := m.cursor - visible/2
	if start < 0 {
		start = 0
	}
	if start+visible > rows {
		start = rows - visible
	}
	return start, start + visible
}

func (m Model) viewProgress() string {
	if m.plan == nil {
		return ""
	}
	total := len(m.plan.Keys)
	pct := 1.0
	if total > 0 {
		pct = float64(m.deleted) / float64(total)
	}
	return fmt.Sprintf("Deleting %d/%d\n%s", m.deleted, total, m.progress.ViewAs(pct))
}

// viewConfirm renders the deletion confirmation dialog
func (m Model) viewConfirm() string {
	if m.plan == nil {
		return m.viewBrowser()
	}
	var s strings.Builder
	s.WriteString(titleStyle.Render("Confirm deletion"))
	s.WriteString("\n\n")

	for _, target := range m.plan.Targets[:min(10, len(m.plan.Targets))] {
		s.WriteString("  " + displayPath(target) + "\n")
	}
	if more := len(m.plan.Targets) - 10; more > 0 {
		s.WriteString(fmt.Sprintf("  ... and %d more\n", more))
	}
	s.WriteString("\n")
	s.WriteString(fmt.Sprintf("Total: %s\n", m.plan.Totals()))
	for _, f := range m.plan.ExpandFailures {
		s.WriteString(errorStyle.Render(fmt.Sprintf("Could not list %s: %v", displayPath(f.Path), f.Err)))
		s.WriteString("\n")
	}

	if m.deleting {
		s.WriteString("\n")
		s.WriteString(m.viewProgress())
		s.WriteString("\n")
	} else {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("This cannot be undone. Delete?"))
		s.WriteString("\n\n")
		s.WriteString(m.help.View(confirmKeys{m.keys}))
	}

	return m.center(dialogStyle.Render(s.String()))
}

// viewHelp renders the help view
func (m Model) viewHelp() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("S4 - Help"))
	s.WriteString("\n\n")

	full := m.help
	full.ShowAll = true
	s.WriteString(full.View(m.keys))
	s.WriteString("\n\n")

	s.WriteString(`Sizes:
  -           not calculated yet
  ≥12 MiB…    calculating, running total so far
  12 MiB?     stale after a deletion, press c to recalculate
  N/A         some prefixes could not be listed

Configuration:
  S4 reads configuration from .s3cfg file in:
  - Current directory
  - Home directory (~/.s3cfg)
  - System directory (/etc/s3cfg)
  Tuning lives in the [s4] section of the same file.
`)
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc/?: back • ctrl+c: quit"))

	return m.center(s.String())
}

// viewLog renders the full log window
func (m Model) viewLog() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("S4 - Log"))
	s.WriteString("\n\n")

	n := len(m.logLines)
	if m.height > 0 {
		n = max(1, m.height-8)
	}
	lines := lastN(m.logLines, n)
	if len(lines) == 0 {
		s.WriteString("Nothing logged yet.\n")
	}
	for _, line := range lines {
		s.WriteString(line)
		s.WriteString("\n")
	}
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc/L: back • ctrl+c: quit"))
	return m.center(s.String())
}

func (m Model) center(content string) string {
	if m.width > 0 && m.height > 0 {
		centered := centerStyle.Width(m.width).Render(content)
		return verticalCenterStyle.Height(m.height).Render(centered)
	}
	return content
}

func displayPath(path string) string {
	return "/" + path
}

func dirArrow(dir core.SortDirection) string {
	if dir == core.Descending {
		return "↓"
	}
	return "↑"
}

func lastN(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
