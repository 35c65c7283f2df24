package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/hochfrequenz/repo-rlm/internal/domain"
	"github.com/hochfrequenz/repo-rlm/internal/findings"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	queuedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("244"))

	completedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	inProgressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	dimmedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))
)

var tabNames = [tabCount]string{"Overview", "Tree", "Findings"}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	header := fmt.Sprintf(" repo-rlm │ run %s ", m.runID)
	if m.run != nil {
		header = fmt.Sprintf(" repo-rlm │ run %s │ %s │ %s │ nodes: %d ",
			shortID(m.run.ID), m.run.Mode, m.run.Status, len(m.nodes))
	}
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	var content string
	switch {
	case m.run == nil && m.loadErr != nil:
		content = errorStyle.Render("Error: " + m.loadErr.Error())
	case m.run == nil:
		content = dimmedStyle.Render("Loading run...")
	default:
		switch m.activeTab {
		case TabOverview:
			content = m.renderOverview()
		case TabTree:
			content = m.renderTree()
		case TabFindings:
			content = m.renderFindings()
		}
	}
	b.WriteString(sectionStyle.Width(m.width - 2).Render(content))
	b.WriteString("\n")

	if m.run != nil && m.loadErr != nil {
		b.WriteString(warningStyle.Width(m.width).Render(" refresh failed: " + m.loadErr.Error()))
		b.WriteString("\n")
	}

	bar := " [tab]switch [1-3]jump [j/k]scroll [g/G]top/bottom [r]efresh [q]uit "
	if !m.lastRefresh.IsZero() {
		bar += "│ updated " + m.lastRefresh.Format("15:04:05") + " "
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(bar))
	return b.String()
}

func (m Model) renderTabs() string {
	var tabs []string
	for i, name := range tabNames {
		label := fmt.Sprintf("[%d] %s", i+1, name)
		if i == m.activeTab {
			tabs = append(tabs, tabActiveStyle.Render(label))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(label))
		}
	}
	return " " + strings.Join(tabs, "  ")
}

func (m Model) renderOverview() string {
	run := m.run
	var b strings.Builder

	b.WriteString(titleStyle.Render(run.Objective))
	b.WriteString("\n\n")
	field := func(name, value string) {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render(fmt.Sprintf("%-10s", name)), value)
	}
	field("Status", statusStyle(run.Status).Render(string(run.Status)))
	field("Mode", string(run.Mode))
	if run.Domain != "" {
		field("Domain", run.Domain)
	}
	field("Root", run.RootDir)
	field("Scheduler", string(run.Config.Scheduler))
	if run.FailureReason != "" {
		field("Failure", errorStyle.Render(run.FailureReason))
	}

	b.WriteString("\n")
	c, cfg := run.Counters, run.Config
	b.WriteString(budgetLine("LLM calls", int64(c.LLMCallsUsed), int64(cfg.MaxLLMCalls)))
	b.WriteString(budgetLine("Tokens", int64(c.TokensUsed), int64(cfg.MaxTokens)))
	b.WriteString(budgetLine("Time (ms)", c.ElapsedMs, cfg.MaxWallClockMs))

	b.WriteString("\n")
	counts := make(map[domain.NodeStatus]int)
	maxDepth := 0
	for _, n := range m.nodes {
		counts[n.Status]++
		if n.Depth > maxDepth {
			maxDepth = n.Depth
		}
	}
	fmt.Fprintf(&b, "Nodes: %s  %s  %s  %s   depth %d/%d   results %d\n",
		queuedStyle.Render(fmt.Sprintf("%d queued", counts[domain.NodeQueued])),
		inProgressStyle.Render(fmt.Sprintf("%d processing", counts[domain.NodeProcessing])),
		inProgressStyle.Render(fmt.Sprintf("%d waiting", counts[domain.NodeWaitingChildren])),
		completedStyle.Render(fmt.Sprintf("%d done", counts[domain.NodeDone])),
		maxDepth, cfg.MaxDepth, m.resultCount,
	)
	if m.report != nil && m.report.RawCount > 0 {
		fmt.Fprintf(&b, "Findings: %d raw, %d unique\n", m.report.RawCount, m.report.DedupedCount)
	}
	return b.String()
}

// budgetLine renders used/limit with a ten cell bar
func budgetLine(name string, used, limit int64) string {
	const cells = 10
	filled := 0
	if limit > 0 {
		filled = int(used * cells / limit)
	}
	if filled > cells {
		filled = cells
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", cells-filled)
	style := runningStyle
	if filled >= cells*8/10 {
		style = warningStyle
	}
	return fmt.Sprintf("%-10s %s %d/%d\n", name, style.Render(bar), used, limit)
}

func (m Model) renderTree() string {
	if len(m.nodes) == 0 {
		return dimmedStyle.Render("No nodes")
	}
	var lines []string
	for _, n := range m.nodes {
		marker := ""
		if r, ok := m.results[n.ID]; ok && r.Degraded {
			marker = " " + errorStyle.Render("degraded")
		}
		line := fmt.Sprintf("%s%s %s %s %s%s",
			strings.Repeat("  ", n.Depth),
			n.ID,
			nodeStyle(n.Status).Render(fmt.Sprintf("%-16s", n.Status)),
			dimmedStyle.Render(fmt.Sprintf("%-12s", n.Decision)),
			n.ScopeLabel(),
			marker,
		)
		lines = append(lines, line)
	}
	return m.window(lines)
}

func (m Model) renderFindings() string {
	if m.report == nil || len(m.report.Findings) == 0 {
		if m.run.Mode != domain.ModeReview {
			return dimmedStyle.Render("Findings are produced by review runs")
		}
		return dimmedStyle.Render("No findings yet")
	}
	var lines []string
	for _, f := range m.report.Findings {
		lines = append(lines, findingLine(f))
	}
	return m.window(lines)
}

func findingLine(f findings.Ranked) string {
	loc := ""
	if len(f.Evidence) > 0 {
		e := f.Evidence[0]
		loc = fmt.Sprintf("%s:%d", e.Path, e.LineStart)
		if len(f.Evidence) > 1 {
			loc += fmt.Sprintf(" (+%d)", len(f.Evidence)-1)
		}
	}
	count := ""
	if f.Count > 1 {
		count = dimmedStyle.Render(fmt.Sprintf(" x%d", f.Count))
	}
	return fmt.Sprintf("%s %s%s %s",
		severityStyle(f.Severity).Render(fmt.Sprintf("%-8s", f.Severity)),
		f.Message,
		count,
		dimmedStyle.Render(loc),
	)
}

// window returns the visible slice of lines at the current scroll offset
func (m Model) window(lines []string) string {
	start := m.scroll
	if start > len(lines) {
		start = len(lines)
	}
	end := start + m.visibleRows()
	if end > len(lines) {
		end = len(lines)
	}
	out := strings.Join(lines[start:end], "\n")
	if end < len(lines) {
		out += "\n" + dimmedStyle.Render(fmt.Sprintf("... %d more", len(lines)-end))
	}
	return out
}

func statusStyle(s domain.RunStatus) lipgloss.Style {
	switch s {
	case domain.RunCompleted:
		return completedStyle
	case domain.RunRunning:
		return inProgressStyle
	case domain.RunFailed:
		return errorStyle
	case domain.RunCancelled:
		return warningStyle
	default:
		return queuedStyle
	}
}

func nodeStyle(s domain.NodeStatus) lipgloss.Style {
	switch s {
	case domain.NodeDone:
		return completedStyle
	case domain.NodeProcessing, domain.NodeWaitingChildren:
		return inProgressStyle
	default:
		return queuedStyle
	}
}

func severityStyle(s domain.Severity) lipgloss.Style {
	switch s {
	case domain.SeverityCritical, domain.SeverityHigh:
		return errorStyle
	case domain.SeverityMedium:
		return warningStyle
	default:
		return dimmedStyle
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RenderStatus renders a one-shot styled status block for the CLI
func RenderStatus(run *domain.Run, nodes []*domain.Node, results int) string {
	m := Model{run: run, nodes: domain.PreOrder(nodes), resultCount: results}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Run"), run.ID)
	b.WriteString(m.renderOverview())
	return b.String()
}
