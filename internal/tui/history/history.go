package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"isoflow/internal/storage"
	"isoflow/internal/tui/styles"
)

type Model struct {
	Store *storage.Store
	Table table.Model
	Items []storage.HistoryItem
	Err   error

	// Detail is the run opened with enter, nil when browsing.
	Detail *storage.HistoryItem

	Width  int
	Height int
}

func NewModel(store *storage.Store) Model {
	columns := []table.Column{
		{Title: "Time", Width: 20},
		{Title: "Title", Width: 24},
		{Title: "Flows", Width: 16},
		{Title: "Duration", Width: 10},
		{Title: "Result", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	m := Model{
		Store: store,
		Table: t,
	}
	m.Refresh()
	return m
}

func (m *Model) Refresh() {
	if m.Store == nil {
		return
	}
	items, err := m.Store.List(0)
	m.Items, m.Err = items, err
	rows := make([]table.Row, len(items))

	for i, item := range items {
		names := make([]string, len(item.Flows))
		for j, f := range item.Flows {
			names[j] = f.Name
		}
		result := "OK"
		if !item.OK() {
			result = "FAIL"
		}
		rows[i] = table.Row{
			item.StartedAt.Format(time.RFC822),
			item.Title,
			strings.Join(names, ","),
			item.Duration().Round(time.Second).String(),
			result,
		}
	}
	m.Table.SetRows(rows)
}

// Selected is the history item under the cursor.
func (m Model) Selected() *storage.HistoryItem {
	i := m.Table.Cursor()
	if i < 0 || i >= len(m.Items) {
		return nil
	}
	item := m.Items[i]
	return &item
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Table.SetWidth(msg.Width - 4)

	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			m.Detail = m.Selected()
			return m, nil
		case "esc", "backspace":
			m.Detail = nil
			return m, nil
		}
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

func detailView(item storage.HistoryItem) string {
	s := strings.Builder{}
	fmt.Fprintf(&s, "%s  %s\n", styles.Active.Render(item.ID), item.Title)
	fmt.Fprintf(&s, "%s  (%s)  output %s\n\n", item.StartedAt.Format(time.RFC1123), item.Duration().Round(time.Millisecond), item.OutputDir)
	for _, f := range item.Flows {
		fmt.Fprintf(&s, "%-8s %-11s %-9s reports %-6d p50 %.3f  p99 %.3f\n", f.Name, f.Role, f.State, f.Reports, f.P50, f.P99)
		if f.Error != "" {
			s.WriteString("   " + styles.Error.Render(f.Error) + "\n")
		}
	}
	s.WriteString("\n" + styles.Subtle.Render("esc to go back"))
	return s.String()
}

func (m Model) View() string {
	if m.Err != nil {
		return styles.Box.Render(styles.Error.Render(m.Err.Error()))
	}
	if m.Detail != nil {
		return styles.Box.Render(detailView(*m.Detail))
	}
	return styles.Box.Render(m.Table.View())
}
