package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// phaseView represents the view state for one run phase
type phaseView struct {
	Name      string
	Detail    string
	Done      bool
	StartTime time.Time
}

// Model is the Bubble Tea model for a single diagnosis run
type Model struct {
	phases   []*phaseView
	logs     []string
	spinner  int
	width    int
	finished bool
	failed   bool
	outcome  string
	mu       sync.RWMutex
}

// newModel creates a new TUI model
func newModel() *Model {
	return &Model{}
}

type phaseMsg struct {
	Name   string
	Detail string
}

type logMsg struct {
	Line string
}

type doneMsg struct {
	Outcome string
	Failed  bool
}

type tickMsg time.Time

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Init initializes the model
func (m *Model) Init() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update handles messages and updates the model
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.mu.Lock()
		m.spinner++
		m.mu.Unlock()
		return m, tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
			return tickMsg(t)
		})

	case phaseMsg:
		m.mu.Lock()
		for _, p := range m.phases {
			p.Done = true
		}
		m.phases = append(m.phases, &phaseView{
			Name:      msg.Name,
			Detail:    msg.Detail,
			StartTime: time.Now(),
		})
		m.mu.Unlock()

	case logMsg:
		m.mu.Lock()
		m.logs = append(m.logs, msg.Line)
		if len(m.logs) > 5 {
			m.logs = m.logs[len(m.logs)-5:]
		}
		m.mu.Unlock()

	case doneMsg:
		m.mu.Lock()
		for _, p := range m.phases {
			p.Done = true
		}
		m.finished = true
		m.failed = msg.Failed
		m.outcome = msg.Outcome
		m.mu.Unlock()
		return m, tea.Quit
	}

	return m, nil
}

// View renders the UI
func (m *Model) View() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var s strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12"))
	s.WriteString(headerStyle.Render("Culprit — tool schema diagnosis"))
	s.WriteString("\n\n")

	detailStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	for _, p := range m.phases {
		icon := spinnerFrames[m.spinner%len(spinnerFrames)]
		if p.Done {
			icon = "✓"
		}
		s.WriteString(fmt.Sprintf("%s %s", icon, p.Name))
		if p.Detail != "" {
			s.WriteString(detailStyle.Render("  " + p.Detail))
		}
		s.WriteString("\n")
	}

	if len(m.logs) > 0 {
		s.WriteString("\n")
		for _, line := range m.logs {
			s.WriteString(detailStyle.Render(line))
			s.WriteString("\n")
		}
	}

	if m.finished {
		s.WriteString("\n")
		style := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
		if m.failed {
			style = style.Foreground(lipgloss.Color("9"))
		}
		s.WriteString(style.Render(m.outcome))
		s.WriteString("\n")
	}

	return s.String()
}
