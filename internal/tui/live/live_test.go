package live

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"isoflow/internal/flow"
	"isoflow/internal/runner"
)

func flows(t *testing.T) []flow.Descriptor {
	t.Helper()
	cfg := flow.PlanConfig{
		Duration:           10 * time.Second,
		Endpoints:          flow.Endpoints{Server: "dut", Client: "localhost", Destination: "10.0.0.2"},
		Load:               "60:18M,0",
		TrafficClass:       "VI",
		Stress:             flow.Endpoints{Server: "dut2", Client: "localhost", Destination: "10.0.0.3"},
		StressProtocol:     "TCP",
		StressLoad:         "20M",
		StressTrafficClass: "BK",
	}
	fs, err := flow.Plan(cfg)
	require.NoError(t, err)
	return fs
}

func TestLiveTracksFlows(t *testing.T) {
	m := NewModel(flows(t))
	assert.Equal(t, []string{"ISOCH", "STRESS"}, m.Order)
	assert.Equal(t, 10*time.Second, m.Duration)
	assert.False(t, m.Done())

	m, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = m.Update(UpdateMsg{Flow: "ISOCH", State: runner.Running, Reports: 2, P99LatencyMs: 1.25})
	m, _ = m.Update(UpdateMsg{Flow: "unknown", State: runner.Completed})
	assert.Equal(t, uint64(2), m.Panels["ISOCH"].Last.Reports)
	assert.Equal(t, 1.25, m.Panels["ISOCH"].Latency.Last())

	m, _ = m.Update(UpdateMsg{Flow: "ISOCH", State: runner.Completed})
	m, _ = m.Update(UpdateMsg{Flow: "STRESS", State: runner.Failed})
	assert.True(t, m.Done())

	m, _ = m.Update(PhaseMsg("Draining"))
	view := m.View()
	assert.Contains(t, view, "Draining")
	assert.Contains(t, view, "ISOCH")
	assert.Contains(t, view, "STRESS")
	assert.Contains(t, view, "60:18M,0")
}
