package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"isoflow/internal/flow"
	"isoflow/internal/runner"
	"isoflow/internal/tui/components"
	"isoflow/internal/tui/styles"
)

// UpdateMsg carries one runner progress snapshot into the program.
type UpdateMsg runner.Update

// PhaseMsg reports a controller phase change.
type PhaseMsg string

type flowPanel struct {
	Desc    flow.Descriptor
	Last    runner.Update
	Latency components.Sparkline
}

// Model shows every flow of the running experiment side by side.
type Model struct {
	Panels   map[string]*flowPanel
	Order    []string
	Phase    string
	Progress progress.Model

	StartTime time.Time
	Duration  time.Duration

	Width  int
	Height int
}

func NewModel(flows []flow.Descriptor) Model {
	m := Model{
		Panels:    make(map[string]*flowPanel, len(flows)),
		Progress:  progress.New(progress.WithDefaultGradient()),
		StartTime: time.Now(),
		Phase:     "Running",
	}
	for _, d := range flows {
		m.Order = append(m.Order, d.Name)
		m.Panels[d.Name] = &flowPanel{
			Desc:    d,
			Last:    runner.Update{Flow: d.Name, Role: d.Role, State: runner.Pending},
			Latency: components.NewSparkline(40, "p99 latency", "ms", styles.Warn),
		}
		if d.Duration > m.Duration {
			m.Duration = d.Duration
		}
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case UpdateMsg:
		p, ok := m.Panels[msg.Flow]
		if !ok {
			return m, nil
		}
		p.Last = runner.Update(msg)
		if msg.P99LatencyMs > 0 {
			p.Latency.Add(msg.P99LatencyMs)
		}

		pct := 1.0
		if m.Duration > 0 {
			pct = float64(time.Since(m.StartTime)) / float64(m.Duration)
		}
		if pct > 1.0 {
			pct = 1.0
		}
		return m, m.Progress.SetPercent(pct)

	case PhaseMsg:
		m.Phase = string(msg)
		return m, nil

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Progress.Width = msg.Width - 4

		width := msg.Width/max(len(m.Order), 1) - 6
		if width < 10 {
			width = 10
		}
		for _, p := range m.Panels {
			p.Latency.Width = width
		}
		return m, nil

	case progress.FrameMsg:
		prog, cmd := m.Progress.Update(msg)
		m.Progress = prog.(progress.Model)
		return m, cmd
	}

	return m, nil
}

// Done reports whether every flow reached a terminal state.
func (m Model) Done() bool {
	for _, p := range m.Panels {
		if !p.Last.State.Terminal() {
			return false
		}
	}
	return true
}

func (m Model) panelView(p *flowPanel) string {
	u := p.Last
	d := p.Desc

	s := strings.Builder{}
	s.WriteString(styles.Active.Render(d.Name))
	s.WriteString(" ")
	s.WriteString(styles.Subtle.Render(d.Role.String()))
	s.WriteString("\n")
	fmt.Fprintf(&s, "%s %s -> %s\n", d.Protocol, d.ClientHost, d.Destination)
	fmt.Fprintf(&s, "load %s  tos %s\n", d.Load, d.TrafficClass.Token())
	s.WriteString(styles.State(u.State).Render(u.State.String()))
	fmt.Fprintf(&s, "  %s\n", u.Elapsed.Round(100*time.Millisecond))
	fmt.Fprintf(&s, "reports %d  KB %d\n\n", u.Reports, u.Bytes/1024)
	s.WriteString(p.Latency.View())
	if u.Err != nil {
		s.WriteString("\n")
		s.WriteString(styles.Error.Render(u.Err.Error()))
	}
	return styles.Box.Render(s.String())
}

func (m Model) View() string {
	s := strings.Builder{}

	s.WriteString(styles.Title.Render(fmt.Sprintf("📡 Live  (%s)", m.Phase)))
	s.WriteString("\n\n")

	panels := make([]string, 0, len(m.Order))
	for _, name := range m.Order {
		panels = append(panels, m.panelView(m.Panels[name]))
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, panels...))
	s.WriteString("\n\n")

	s.WriteString(m.Progress.View())
	return s.String()
}
