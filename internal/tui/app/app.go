package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"isoflow/internal/cli"
	"isoflow/internal/config"
	"isoflow/internal/controller"
	"isoflow/internal/runner"
	tuiconfig "isoflow/internal/tui/config"
	"isoflow/internal/tui/history"
	"isoflow/internal/tui/live"
	"isoflow/internal/tui/result"
	"isoflow/internal/tui/styles"
)

type ClearStatusMsg struct{}

func clearStatusCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(_ time.Time) tea.Msg {
		return ClearStatusMsg{}
	})
}

// View Enum
type ViewID int

const (
	ViewConfig ViewID = iota
	ViewLive
	ViewResult
	ViewHistory
)

type runDoneMsg struct {
	res controller.Result
	err error
}

type phaseTickMsg struct{}

type Model struct {
	Cfg  config.Config
	Deps cli.Deps

	// Core State
	RunActive  bool
	RunCancel  context.CancelFunc
	Controller *controller.Controller
	Updates    runner.UpdateChan

	// Layout
	Width  int
	Height int

	CurrentView ViewID
	MenuItems   []string

	ConfigView  tuiconfig.Model
	LiveView    live.Model
	ResultView  result.Model
	HistoryView history.Model

	// Feedback
	StatusMsg string
}

func NewModel(cfg config.Config, deps cli.Deps) Model {
	deps.Out = io.Discard
	return Model{
		Cfg:         cfg,
		Deps:        deps,
		CurrentView: ViewConfig,
		MenuItems:   []string{"[1] Configure", "[2] Live", "[3] Result", "[4] History"},
		ConfigView:  tuiconfig.NewModel(cfg),
		HistoryView: history.NewModel(deps.Store),
	}
}

func (m Model) Init() tea.Cmd {
	return m.ConfigView.Init()
}

func waitForUpdate(sub runner.UpdateChan) tea.Cmd {
	return func() tea.Msg {
		return live.UpdateMsg(<-sub)
	}
}

func phaseTick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg {
		return phaseTickMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case ClearStatusMsg:
		m.StatusMsg = ""
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			if m.RunCancel != nil {
				m.RunCancel()
			}
			return m, tea.Quit

		case "q":
			if m.CurrentView == ViewResult {
				return m, tea.Quit
			}

		case "ctrl+h":
			m.HistoryView.Refresh()
			m.CurrentView = ViewHistory
			return m, nil

		case "ctrl+right":
			m.CurrentView = (m.CurrentView + 1) % 4
			return m, nil
		case "ctrl+left":
			m.CurrentView = (m.CurrentView + 3) % 4
			return m, nil

		case "enter":
			if m.CurrentView == ViewConfig && !m.RunActive {
				return m.startRun()
			}

		case "ctrl+s":
			if m.RunActive && m.RunCancel != nil {
				m.RunCancel()
				m.StatusMsg = "Stopping run..."
				return m, clearStatusCmd()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		inner := tea.WindowSizeMsg{Width: msg.Width, Height: msg.Height - 7}

		m.ConfigView, _ = m.ConfigView.Update(inner)
		m.ResultView, _ = m.ResultView.Update(inner)
		m.HistoryView, _ = m.HistoryView.Update(inner)
		var c tea.Cmd
		m.LiveView, c = m.LiveView.Update(inner)
		return m, c

	case live.UpdateMsg:
		var c tea.Cmd
		m.LiveView, c = m.LiveView.Update(msg)
		cmds = append(cmds, c)
		if m.RunActive {
			cmds = append(cmds, waitForUpdate(m.Updates))
		}
		return m, tea.Batch(cmds...)

	case phaseTickMsg:
		if !m.RunActive || m.Controller == nil {
			return m, nil
		}
		m.LiveView, _ = m.LiveView.Update(live.PhaseMsg(m.Controller.Phase().String()))
		return m, phaseTick()

	case runDoneMsg:
		m.RunActive = false
		if m.RunCancel != nil {
			m.RunCancel()
			m.RunCancel = nil
		}
		m.ResultView = result.NewModel(msg.res, m.Cfg.OutputDirectory, msg.err)
		m.ResultView.Width, m.ResultView.Height = m.Width, m.Height-7
		m.HistoryView.Refresh()
		m.CurrentView = ViewResult
		if msg.err == nil {
			m.StatusMsg = fmt.Sprintf("Finished.  Results written to directory %s", m.Cfg.OutputDirectory)
			return m, clearStatusCmd()
		}
		return m, nil
	}

	// Forward everything else to the active view.
	var defaultCmd tea.Cmd
	switch m.CurrentView {
	case ViewConfig:
		m.ConfigView, defaultCmd = m.ConfigView.Update(msg)
	case ViewLive:
		m.LiveView, defaultCmd = m.LiveView.Update(msg)
	case ViewResult:
		m.ResultView, defaultCmd = m.ResultView.Update(msg)
	case ViewHistory:
		m.HistoryView, defaultCmd = m.HistoryView.Update(msg)
	}
	cmds = append(cmds, defaultCmd)

	return m, tea.Batch(cmds...)
}

func (m Model) startRun() (Model, tea.Cmd) {
	cfg, err := m.ConfigView.GetConfig()
	if err != nil {
		m.ConfigView.Err = err
		return m, nil
	}
	m.ConfigView.Err = nil
	m.Cfg = cfg

	m.Updates = make(runner.UpdateChan, 100)
	c, err := cli.Prepare(cfg, m.Deps, m.Updates)
	if err != nil {
		m.ConfigView.Err = err
		return m, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.Controller = c
	m.RunCancel = cancel
	m.RunActive = true

	m.LiveView = live.NewModel(c.Flows())
	m.LiveView, _ = m.LiveView.Update(tea.WindowSizeMsg{Width: m.Width, Height: m.Height - 7})
	m.CurrentView = ViewLive

	deps := m.Deps
	run := func() tea.Msg {
		res, err := c.Run(ctx)
		if err == nil {
			err = cli.Finish(ctx, cfg, res, deps)
		}
		return runDoneMsg{res: res, err: err}
	}
	return m, tea.Batch(run, waitForUpdate(m.Updates), phaseTick())
}

func (m Model) View() string {
	if m.Width == 0 {
		return "Loading..."
	}

	nav := strings.Builder{}
	for i, item := range m.MenuItems {
		if ViewID(i) == m.CurrentView {
			nav.WriteString(styles.TabActive.Render(item))
		} else {
			nav.WriteString(styles.TabBase.Render(item))
		}
	}
	navBar := styles.FooterBase.Width(m.Width).Render(nav.String())

	contentStr := ""
	switch m.CurrentView {
	case ViewConfig:
		contentStr = m.ConfigView.View()
	case ViewLive:
		if m.Controller == nil {
			contentStr = styles.Subtle.Render("No run yet. Configure one and press Enter.")
		} else {
			contentStr = m.LiveView.View()
		}
	case ViewResult:
		if m.ResultView.Result.RunID == "" {
			contentStr = styles.Subtle.Render("No finished run yet.")
		} else {
			contentStr = m.ResultView.View()
		}
	case ViewHistory:
		contentStr = m.HistoryView.View()
	}

	content := styles.Panel.Width(m.Width - 2).Height(m.Height - 6).Render(contentStr)

	keys1 := []string{
		styles.RenderKey("Ctrl+<->", "View"),
		styles.RenderKey("Tab", "Field"),
		styles.RenderKey("Enter", "Run / Open"),
	}
	keys2 := []string{
		styles.RenderKey("Ctrl+S", "Stop"),
		styles.RenderKey("Ctrl+H", "History"),
		styles.RenderKey("Ctrl+Q", "Quit"),
	}

	helpRow1 := styles.FooterBase.Width(m.Width).Render(strings.Join(keys1, "   "))
	helpRow2 := styles.FooterBase.Width(m.Width).Render(strings.Join(keys2, "   "))
	footer := lipgloss.JoinVertical(lipgloss.Left, helpRow1, helpRow2)

	if m.StatusMsg != "" {
		status := styles.Box.BorderForeground(styles.ColorHighlight).Render(m.StatusMsg)
		return lipgloss.JoinVertical(lipgloss.Left, navBar, content, status, footer)
	}

	return lipgloss.JoinVertical(lipgloss.Left, navBar, content, footer)
}
