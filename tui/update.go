package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.loadCmd()
		case "j", "down":
			if m.scroll < m.maxScroll() {
				m.scroll++
			}
		case "k", "up":
			if m.scroll > 0 {
				m.scroll--
			}
		case "g":
			m.scroll = 0
		case "G":
			m.scroll = m.maxScroll()
		case "tab":
			m.activeTab = (m.activeTab + 1) % tabCount
			m.scroll = 0
		case "shift+tab":
			m.activeTab = (m.activeTab + tabCount - 1) % tabCount
			m.scroll = 0
		case "1":
			m.activeTab, m.scroll = TabOverview, 0
		case "2":
			m.activeTab, m.scroll = TabTree, 0
		case "3":
			m.activeTab, m.scroll = TabFindings, 0
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.scroll > m.maxScroll() {
			m.scroll = m.maxScroll()
		}

	case TickMsg:
		// stop polling once nothing can change any more
		if m.run != nil && m.run.Status.Terminal() {
			return m, nil
		}
		return m, tea.Batch(m.loadCmd(), tickCmd(m.interval))

	case RunChangedMsg:
		return m, m.loadCmd()

	case snapshotMsg:
		m.apply(msg)
		if m.scroll > m.maxScroll() {
			m.scroll = m.maxScroll()
		}
	}

	return m, nil
}

// visibleRows is the number of list rows that fit below the header
func (m Model) visibleRows() int {
	rows := m.height - 8
	if rows < 3 {
		rows = 3
	}
	return rows
}

func (m Model) maxScroll() int {
	var n int
	switch m.activeTab {
	case TabTree:
		n = len(m.nodes)
	case TabFindings:
		if m.report != nil {
			n = len(m.report.Findings)
		}
	default:
		return 0
	}
	if n <= m.visibleRows() {
		return 0
	}
	return n - m.visibleRows()
}
