package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	appconfig "isoflow/internal/config"
	"isoflow/internal/flow"
	"isoflow/internal/tui/styles"
)

type Field struct {
	Label string
	Input textinput.Model
	apply func(*appconfig.Config, string) error
}

// Model is the pre-run form: the run-level knobs can be adjusted before
// the flows are planned.
type Model struct {
	Config appconfig.Config

	Fields []Field
	Focus  int
	Err    error

	Width  int
	Height int
}

func textField(label, placeholder, value string, width int, apply func(*appconfig.Config, string) error) Field {
	t := textinput.New()
	t.Placeholder = placeholder
	t.SetValue(value)
	t.Width = width
	return Field{Label: label, Input: t, apply: apply}
}

func NewModel(cfg appconfig.Config) Model {
	m := Model{Config: cfg}
	m.Fields = []Field{
		textField("Server host", "dut.lab", cfg.Server, 40, func(c *appconfig.Config, v string) error {
			c.Server = v
			return nil
		}),
		textField("Destination", "192.168.1.10", cfg.Dst, 40, func(c *appconfig.Config, v string) error {
			c.Dst = v
			return nil
		}),
		textField("Offered load (fps:mean,variance)", "60:18M,0", cfg.OfferedLoad, 20, func(c *appconfig.Config, v string) error {
			c.OfferedLoad = v
			return nil
		}),
		textField("Traffic class (BE/VI/VO/BK)", "BE", cfg.TOS, 4, func(c *appconfig.Config, v string) error {
			c.TOS = strings.ToUpper(v)
			return nil
		}),
		textField("Duration (s)", "10", strconv.FormatFloat(cfg.TimeSeconds, 'f', -1, 64), 10, func(c *appconfig.Config, v string) error {
			secs, err := strconv.ParseFloat(v, 64)
			if err != nil || secs <= 0 {
				return fmt.Errorf("%w: duration %q", flow.ErrInvalidFlowConfig, v)
			}
			c.TimeSeconds = secs
			return nil
		}),
		textField("Title", "", cfg.Title, 40, func(c *appconfig.Config, v string) error {
			c.Title = v
			return nil
		}),
	}
	m.setFocus(0)
	return m
}

func (m *Model) setFocus(i int) {
	m.Focus = i
	for j := range m.Fields {
		if j == i {
			m.Fields[j].Input.Focus()
			m.Fields[j].Input.PromptStyle = styles.Active
			m.Fields[j].Input.TextStyle = styles.Active
		} else {
			m.Fields[j].Input.Blur()
			m.Fields[j].Input.PromptStyle = lipgloss.NewStyle()
			m.Fields[j].Input.TextStyle = lipgloss.NewStyle()
		}
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	var cmds []tea.Cmd

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "tab", "down":
			m.setFocus((m.Focus + 1) % len(m.Fields))
			return m, nil
		case "shift+tab", "up":
			m.setFocus((m.Focus - 1 + len(m.Fields)) % len(m.Fields))
			return m, nil
		}
	}

	for i := range m.Fields {
		var cmd tea.Cmd
		m.Fields[i].Input, cmd = m.Fields[i].Input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// GetConfig applies the form to the starting configuration and checks that
// it still plans into a valid flow set.
func (m Model) GetConfig() (appconfig.Config, error) {
	c := m.Config
	for _, f := range m.Fields {
		if err := f.apply(&c, strings.TrimSpace(f.Input.Value())); err != nil {
			return m.Config, err
		}
	}
	if _, err := flow.Plan(c.Plan()); err != nil {
		return m.Config, err
	}
	return c, nil
}

func (m Model) View() string {
	s := strings.Builder{}

	s.WriteString(styles.Title.Render("🛠️  Run Configuration"))
	s.WriteString("\n\n")

	for i := range m.Fields {
		label, input := styles.Subtle, styles.InputNormal
		if i == m.Focus {
			label, input = styles.Text, styles.InputActive
		}
		s.WriteString(label.Render(m.Fields[i].Label))
		s.WriteString("\n")
		s.WriteString(input.Render(m.Fields[i].Input.View()))
		s.WriteString("\n")
	}

	if m.Config.StressEnabled() {
		st := m.Config.Stress
		s.WriteString(styles.Subtle.Render(fmt.Sprintf("Stress: %s %s -> %s (%s, %s)", st.Proto, st.Client, st.Dst, st.OfferedLoad, st.TOS)))
		s.WriteString("\n\n")
	}
	if m.Err != nil {
		s.WriteString(styles.Error.Render(m.Err.Error()))
		s.WriteString("\n\n")
	}
	s.WriteString(styles.Active.Render("[Enter] Start Run"))

	return styles.Box.Render(s.String())
}
