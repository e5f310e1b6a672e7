package result

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"isoflow/internal/controller"
	"isoflow/internal/tui/styles"
)

type Model struct {
	Result    controller.Result
	OutputDir string
	Err       error

	Width  int
	Height int
}

func NewModel(res controller.Result, outputDir string, err error) Model {
	return Model{Result: res, OutputDir: outputDir, Err: err}
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	s := strings.Builder{}
	res := m.Result

	s.WriteString(styles.Title.Render("📊 Run Complete " + styles.Bool(res.OK())))
	s.WriteString("\n\n")

	// 1. Overview
	s.WriteString(styles.Active.Render("Overview"))
	s.WriteString("\n")
	overview := fmt.Sprintf(
		"Run:      %s\nTitle:    %s\nDuration: %s\nOutput:   %s",
		res.RunID, res.Title, res.Duration().Round(time.Millisecond), m.OutputDir,
	)
	s.WriteString(styles.Box.Render(overview))
	s.WriteString("\n\n")

	// 2. Flows
	s.WriteString(styles.Active.Render("Flows"))
	s.WriteString("\n")
	var flows strings.Builder
	for i, name := range res.Order {
		st := res.Status[name]
		if i > 0 {
			flows.WriteString("\n")
		}
		fmt.Fprintf(&flows, "%-8s %-11s %s  reports %d", name, st.Role, styles.State(st.State).Render(st.State.String()), st.Reports)
		for _, h := range res.Histograms[name] {
			fmt.Fprintf(&flows, "\n   %-8s n=%d  p50 %.3f%s  p99 %.3f%s", h.Metric, h.Total(), h.Quantile(50), h.Unit, h.Quantile(99), h.Unit)
		}
		if st.Err != nil {
			flows.WriteString("\n   ")
			flows.WriteString(styles.Error.Render(st.Err.Error()))
		}
	}
	s.WriteString(styles.Box.Render(flows.String()))

	if m.Err != nil {
		s.WriteString("\n\n")
		s.WriteString(styles.Error.Render(m.Err.Error()))
	}

	s.WriteString("\n\n")
	s.WriteString(styles.Subtle.Render("Press q to quit"))

	return s.String()
}
