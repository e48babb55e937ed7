package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/yourusername/fdrs/internal/cluster"
	"github.com/yourusername/fdrs/internal/planner"
	"github.com/yourusername/fdrs/internal/ui/components"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("5"))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	badStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Model is the plan review screen: the proposed migrations, the per-resource
// imbalance before and after the plan, and the per-host impact.
type Model struct {
	clusterName string
	before      *cluster.Snapshot
	after       *cluster.Snapshot
	beforeRep   planner.ImbalanceReport
	afterRep    planner.ImbalanceReport
	moves       []planner.Move

	table    table.Model
	approved bool
	width    int
	height   int
}

// NewReview builds the review model for one cluster's plan
func NewReview(clusterName string, before, after *cluster.Snapshot, beforeRep, afterRep planner.ImbalanceReport, moves []planner.Move) Model {
	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: "VM", Width: 28},
		{Title: "From", Width: 22},
		{Title: "To", Width: 22},
		{Title: "Reason", Width: 14},
	}

	rows := make([]table.Row, 0, len(moves))
	for i, mv := range moves {
		source := "?"
		if h := before.HostOf(mv.VM); h != nil {
			source = h.Name
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i+1), mv.VM.Name, source, mv.Target.Name, string(mv.Reason),
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(minInt(len(moves)+1, 12)),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(lipgloss.Color("6"))
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("0")).Background(lipgloss.Color("5"))
	t.SetStyles(styles)

	return Model{
		clusterName: clusterName,
		before:      before,
		after:       after,
		beforeRep:   beforeRep,
		afterRep:    afterRep,
		moves:       moves,
		table:       t,
	}
}

// Approved reports whether the operator accepted the plan
func (m Model) Approved() bool {
	return m.approved
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "a", "enter":
			m.approved = true
			return m, tea.Quit
		case "q", "esc", "ctrl+c":
			m.approved = false
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	width := m.width
	if width < 80 {
		width = 100
	}

	var sb strings.Builder
	title := "FDRS Migration Plan"
	if m.clusterName != "" {
		title += " — " + m.clusterName
	}
	sb.WriteString(titleStyle.Render(title) + "\n")
	sb.WriteString(borderStyle.Render(strings.Repeat("━", width)) + "\n\n")

	sb.WriteString(sectionStyle.Render("Cluster Balance (before → after):") + "\n")
	for _, r := range planner.AllResources {
		before, ok := m.beforeRep[r]
		if !ok {
			continue
		}
		after := m.afterRep[r]
		state := okStyle.Render("balanced")
		if after.Imbalanced {
			state = badStyle.Render("imbalanced")
		}
		sb.WriteString(fmt.Sprintf("  %-8s spread %5.1f%% → %5.1f%% (threshold %.0f%%) %s\n",
			r, before.Diff, after.Diff, after.Threshold, state))
	}
	sb.WriteString("\n")

	sb.WriteString(sectionStyle.Render(fmt.Sprintf("Suggested Migrations (%d):", len(m.moves))) + "\n")
	if len(m.moves) == 0 {
		sb.WriteString(helpStyle.Render("  none — cluster satisfies all constraints") + "\n")
	} else {
		sb.WriteString(m.table.View() + "\n")
	}
	sb.WriteString("\n")

	sb.WriteString(sectionStyle.Render("Host Impact:") + "\n")
	for _, h := range m.before.Hosts() {
		ah := m.after.HostByID(h.ID)
		if ah == nil {
			continue
		}
		sb.WriteString("  " + components.RenderResourceBar(fmt.Sprintf("%-22s", h.Name), ah.CPUPercent(), width-40) + "\n")
		sb.WriteString("    " + components.RenderDeltaBar("cpu", h.CPUPercent(), ah.CPUPercent(), width-40) + "\n")
		sb.WriteString("    " + components.RenderDeltaBar("mem", h.MemoryPercent(), ah.MemoryPercent(), width-40) + "\n")
	}

	sb.WriteString("\n" + helpStyle.Render("↑/↓: Navigate  a/Enter: Approve & execute  q/Esc: Abort"))
	return sb.String()
}

// Review shows the plan review screen and reports whether the operator
// approved execution.
func Review(clusterName string, before, after *cluster.Snapshot, beforeRep, afterRep planner.ImbalanceReport, moves []planner.Move) (bool, error) {
	model := NewReview(clusterName, before, after, beforeRep, afterRep, moves)
	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("error running plan review: %w", err)
	}
	if m, ok := final.(Model); ok {
		return m.Approved(), nil
	}
	return false, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
