// ABOUTME: Bubble Tea model that tails a session's status.json and renders a live agent/vote table.
// ABOUTME: Read-only viewer over the same contract external monitors consume; it never touches session state.
package statustui

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/2389-research/quorum/orchestrator"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(0, 1)

	streamingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	decidedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	idleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	labelStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	winnerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
)

// styleForAgentStatus maps an agent's status string to its display style.
func styleForAgentStatus(status string) lipgloss.Style {
	switch orchestrator.AgentStatus(status) {
	case orchestrator.StatusStreaming, orchestrator.StatusRestarting:
		return streamingStyle
	case orchestrator.StatusAnswered, orchestrator.StatusVoted, orchestrator.StatusCompleted:
		return decidedStyle
	case orchestrator.StatusError, orchestrator.StatusTimeout:
		return failedStyle
	default:
		return idleStyle
	}
}

// tickMsg drives the periodic re-read of status.json.
type tickMsg struct {
	Time time.Time
}

// statusMsg carries a freshly parsed snapshot (or the read error) into the
// message loop.
type statusMsg struct {
	doc orchestrator.StatusDocument
	err error
}

// Model is the Bubble Tea model for the status watcher.
type Model struct {
	path     string
	interval time.Duration
	doc      orchestrator.StatusDocument
	loaded   bool
	err      error
	width    int
	spin     spinner.Model
}

// NewModel builds a watcher over the given status.json path, polling at
// interval (defaulting to one second when non-positive).
func NewModel(path string, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = streamingStyle
	return Model{path: path, interval: interval, spin: s}
}

// Init implements tea.Model: read once immediately, then start ticking.
func (m Model) Init() tea.Cmd {
	return tea.Batch(readStatus(m.path), m.tick(), m.spin.Tick)
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg {
		return tickMsg{Time: t}
	})
}

// readStatus loads and parses status.json off the message loop.
func readStatus(path string) tea.Cmd {
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return statusMsg{err: err}
		}
		var doc orchestrator.StatusDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return statusMsg{err: err}
		}
		return statusMsg{doc: doc}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		return m, tea.Batch(readStatus(m.path), m.tick())

	case statusMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.doc = msg.doc
		m.loaded = true

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("quorum session"))
	if m.doc.Results.Winner == nil {
		b.WriteString(" ")
		b.WriteString(m.spin.View())
	}
	b.WriteString("\n")

	if m.err != nil && !m.loaded {
		b.WriteString(idleStyle.Render(fmt.Sprintf("waiting for %s (%v)", m.path, m.err)))
		b.WriteString("\n")
		return b.String()
	}

	doc := m.doc
	fmt.Fprintf(&b, "%s %s   %s %.0fs   %s %s\n",
		labelStyle.Render("session:"), doc.Meta.SessionID,
		labelStyle.Render("elapsed:"), doc.Meta.ElapsedSeconds,
		labelStyle.Render("phase:"), doc.Coordination.Phase,
	)

	b.WriteString(borderStyle.Render(m.renderAgents()))
	b.WriteString("\n")
	b.WriteString(borderStyle.Render(m.renderResults()))
	b.WriteString("\n")
	b.WriteString(idleStyle.Render("q to quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) renderAgents() string {
	doc := m.doc
	if len(doc.Agents) == 0 {
		return idleStyle.Render("no agents yet")
	}
	ids := make([]string, 0, len(doc.Agents))
	for id := range doc.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var b strings.Builder
	fmt.Fprintf(&b, "%-12s %-12s %-8s %-10s %s\n", "agent", "status", "answers", "voted for", "latest")
	for i, id := range ids {
		a := doc.Agents[id]
		status := styleForAgentStatus(a.Status).Render(fmt.Sprintf("%-12s", a.Status))
		fmt.Fprintf(&b, "%-12s %s %-8d %-10s %s", id, status, a.AnswerCount, a.VotedFor, a.LatestAnswerLabel)
		if a.Error != "" {
			fmt.Fprintf(&b, "  %s", failedStyle.Render(a.Error))
		}
		if i < len(ids)-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (m Model) renderResults() string {
	doc := m.doc
	var b strings.Builder

	if len(doc.Results.VoteCounts) == 0 {
		b.WriteString(idleStyle.Render("no votes yet"))
	} else {
		labels := make([]string, 0, len(doc.Results.VoteCounts))
		for label := range doc.Results.VoteCounts {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for i, label := range labels {
			fmt.Fprintf(&b, "%s: %d", label, doc.Results.VoteCounts[label])
			if i < len(labels)-1 {
				b.WriteString("   ")
			}
		}
	}

	if doc.Results.Winner != nil {
		b.WriteString("\n")
		b.WriteString(winnerStyle.Render(fmt.Sprintf("winner: %s", *doc.Results.Winner)))
	}
	if doc.Results.FinalAnswerPreview != "" {
		b.WriteString("\n")
		b.WriteString(doc.Results.FinalAnswerPreview)
	}
	return b.String()
}

// Run launches the watcher in the terminal and blocks until the user quits.
func Run(path string, interval time.Duration) error {
	p := tea.NewProgram(NewModel(path, interval))
	_, err := p.Run()
	return err
}
